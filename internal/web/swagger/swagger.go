// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: MIT

package swagger

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openapiYAML []byte

//go:embed index.html
var swaggerHTML string

var httpMethods = map[string]bool{"get": true, "post": true, "put": true, "delete": true, "patch": true}

// Handler serves the license API document and a Swagger UI page for it
type Handler struct {
	spec    map[string]interface{}
	baseURL string
	ui      []byte
}

func NewHandler(baseURL string) (*Handler, error) {
	if len(openapiYAML) == 0 {
		return nil, nil
	}

	var spec map[string]interface{}
	if err := yaml.Unmarshal(openapiYAML, &spec); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}

	baseURL = strings.TrimSuffix(baseURL, "/")

	return &Handler{
		spec:    spec,
		baseURL: baseURL,
		ui:      []byte(strings.ReplaceAll(swaggerHTML, "{{OPENAPI_URL}}", baseURL+"/api/openapi.json")),
	}, nil
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/docs", h.ServeSwaggerUI)
	r.Get("/api/openapi.json", h.ServeOpenAPISpec)
}

func (h *Handler) ServeSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(h.ui)
}

// GetOpenAPISpec returns the raw embedded YAML document
func GetOpenAPISpec() ([]byte, error) {
	if len(openapiYAML) == 0 {
		return nil, nil
	}
	return openapiYAML, nil
}

// DocumentedOperations lists "METHOD /path" for every operation in the document, sorted
func DocumentedOperations() ([]string, error) {
	var doc struct {
		Paths map[string]map[string]yaml.Node `yaml:"paths"`
	}
	if err := yaml.Unmarshal(openapiYAML, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}

	var ops []string
	for path, item := range doc.Paths {
		for method := range item {
			if httpMethods[method] {
				ops = append(ops, strings.ToUpper(method)+" "+path)
			}
		}
	}
	sort.Strings(ops)

	return ops, nil
}

func (h *Handler) ServeOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	// shallow copy, servers are rebuilt per request
	spec := make(map[string]interface{}, len(h.spec))
	for k, v := range h.spec {
		spec[k] = v
	}

	if h.baseURL != "" {
		scheme := "http"
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			scheme = "https"
		}

		servers := []interface{}{
			map[string]interface{}{
				"url":         scheme + "://" + r.Host + h.baseURL,
				"description": "This licensegate instance",
			},
		}
		if existing, ok := h.spec["servers"].([]interface{}); ok {
			servers = append(servers, existing...)
		}
		spec["servers"] = servers
	}

	if err := json.NewEncoder(w).Encode(spec); err != nil {
		log.Error().Err(err).Msg("Failed to encode openapi document")
	}
}
