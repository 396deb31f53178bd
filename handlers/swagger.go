package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RegisterSwagger registers minimal Swagger/OpenAPI endpoints.
// - GET /swagger/index.html  -> a small HTML page that loads the OpenAPI JSON
// - GET /swagger/doc.json    -> machine-readable OpenAPI JSON
func RegisterSwagger(rg gin.IRouter) {
	rg.GET("/swagger/index.html", func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, swaggerHTML)
	})

	rg.GET("/swagger/doc.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(swaggerJSON))
	})
}

const swaggerHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8" />
    <title>collabdocs - Swagger</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@4/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4/swagger-ui-bundle.js"></script>
    <script>
      window.ui = SwaggerUIBundle({
        url: '/swagger/doc.json',
        dom_id: '#swagger-ui',
      })
    </script>
  </body>
</html>`

const swaggerJSON = `{
  "openapi": "3.0.0",
  "info": { "title": "collabdocs", "version": "v0.1.0" },
  "components": { "securitySchemes": { "bearer": { "type": "http", "scheme": "bearer" } } },
  "paths": {
    "/api/register": {
      "post": { "summary": "Create an account", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"name":{"type":"string"},"email":{"type":"string"},"password":{"type":"string"},"password_confirmation":{"type":"string"}}}}}}, "responses": { "201": { "description": "user and token" }, "422": { "description": "invalid input" } } }
    },
    "/api/login": {
      "post": { "summary": "Login with email and password", "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"email":{"type":"string"},"password":{"type":"string"}}}}}}, "responses": { "200": { "description": "user and token" }, "401": { "description": "invalid credentials" } } }
    },
    "/api/logout": {
      "post": { "summary": "Revoke every token of the caller", "security": [{"bearer":[]}], "responses": { "200": { "description": "logged out" } } }
    },
    "/api/user": {
      "get": { "summary": "Current user", "security": [{"bearer":[]}], "responses": { "200": { "description": "user" } } }
    },
    "/api/documents": {
      "get": { "summary": "List documents", "security": [{"bearer":[]}], "responses": { "200": { "description": "{data: [document]}" } } },
      "post": { "summary": "Create a document", "security": [{"bearer":[]}], "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"},"content":{"type":"string"}}}}}}, "responses": { "200": { "description": "document" }, "422": { "description": "invalid input" } } }
    },
    "/api/documents/{id}": {
      "get": { "summary": "Fetch a document", "security": [{"bearer":[]}], "responses": { "200": { "description": "document" }, "404": { "description": "not found" } } },
      "put": { "summary": "Update a document; the previous content is archived as a version", "security": [{"bearer":[]}], "parameters": [{"name":"X-Socket-ID","in":"header","schema":{"type":"string"}}], "requestBody": { "content": { "application/json": { "schema": {"type":"object","properties":{"title":{"type":"string"},"content":{"type":"string"}}}}}}, "responses": { "200": { "description": "updated document" }, "404": { "description": "not found" }, "422": { "description": "invalid input" }, "500": { "description": "storage failure with the unchanged document" } } },
      "delete": { "summary": "Soft delete a document", "security": [{"bearer":[]}], "responses": { "204": { "description": "deleted" }, "404": { "description": "not found" } } }
    },
    "/api/documents/{id}/versions": {
      "get": { "summary": "Archived versions, newest first", "security": [{"bearer":[]}], "responses": { "200": { "description": "versions" }, "404": { "description": "not found" } } }
    },
    "/api/documents/{id}/export": {
      "post": { "summary": "Export content to object storage", "security": [{"bearer":[]}], "responses": { "200": { "description": "{key, url}" }, "404": { "description": "not found" } } }
    },
    "/api/broadcasting/socket": {
      "get": { "summary": "Realtime websocket (token query parameter accepted)", "responses": { "101": { "description": "switching protocols" }, "401": { "description": "unauthenticated" } } }
    },
    "/health": { "get": { "summary": "Liveness check", "responses": { "200": { "description": "healthy" } } } },
    "/ready": { "get": { "summary": "Readiness check", "responses": { "200": { "description": "ready" }, "503": { "description": "not ready" } } } }
  }
}`
