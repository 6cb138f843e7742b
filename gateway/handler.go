// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package gateway

import (
	"errors"
	"io"
	"net/http"
	"net/http/httputil"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"
)

const maxHookBody = 64 << 10

// Handler returns a reverse proxy onto the origin that sends every
// request through the gateway.
func (g *Gateway) Handler() http.Handler {
	proxy := httputil.NewSingleHostReverseProxy(g.origin)
	proxy.Transport = g
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		g.OnError(err)
		w.WriteHeader(http.StatusBadGateway)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drop any client provided X-Forwarded-For to prevent IP spoofing.
		r.Header.Del("X-Forwarded-For")

		r.Header.Set("X-Forwarded-Host", r.Host)
		r.URL.Host = g.origin.Host
		r.URL.Scheme = g.origin.Scheme
		r.Host = g.origin.Host

		proxy.ServeHTTP(w, r)
	})
}

// RegisterHooks mounts the lifecycle hook endpoints on r:
//
//	POST /message  {"type":"PERFORMANCE_MARK","name":"...","duration":n}
//	POST /sync     {"tag":"background-sync"}
//	POST /push     raw push payload
func (g *Gateway) RegisterHooks(r *mux.Router) {
	r.HandleFunc("/message", g.handleMessage).Methods(http.MethodPost)
	r.HandleFunc("/sync", g.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/push", g.handlePush).Methods(http.MethodPost)
}

func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readHook(w, r)
	if !ok {
		return
	}
	if !gjson.ValidBytes(body) {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	doc := gjson.ParseBytes(body)
	g.OnMessage(Message{
		Type:     doc.Get("type").String(),
		Name:     doc.Get("name").String(),
		Duration: doc.Get("duration").Float(),
	})
	w.WriteHeader(http.StatusAccepted)
}

func (g *Gateway) handleSync(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readHook(w, r)
	if !ok {
		return
	}
	tag := gjson.GetBytes(body, "tag")
	if !tag.Exists() {
		http.Error(w, "missing tag", http.StatusBadRequest)
		return
	}
	g.OnSync(tag.String())
	w.WriteHeader(http.StatusAccepted)
}

func (g *Gateway) handlePush(w http.ResponseWriter, r *http.Request) {
	body, ok := g.readHook(w, r)
	if !ok {
		return
	}
	if err := g.OnPush(r.Context(), body); err != nil {
		g.OnError(err)
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (g *Gateway) readHook(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxHookBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return nil, false
		}
		g.OnError(err)
		http.Error(w, "invalid body", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}
