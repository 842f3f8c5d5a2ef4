// Package docs holds the OpenAPI description served at /swagger. Regenerate
// with `swag init -g cmd/api/main.go -o internal/docs` after changing handler
// annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/discover": {
            "post": {
                "description": "Find, screen and rank ETFs an investor may hold in the given account type",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["discovery"],
                "summary": "Discover ETFs",
                "parameters": [
                    {
                        "description": "Discovery query",
                        "name": "request",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handlers.DiscoveryRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "Ranked results", "schema": {"$ref": "#/definitions/handlers.DiscoveryResponse"}},
                    "400": {"description": "Malformed query", "schema": {"$ref": "#/definitions/errors.Response"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/errors.Response"}},
                    "503": {"description": "Catalog or eligibility engine unavailable", "schema": {"$ref": "#/definitions/errors.Response"}},
                    "504": {"description": "Discovery timed out", "schema": {"$ref": "#/definitions/errors.Response"}}
                }
            }
        },
        "/instruments": {
            "get": {
                "produces": ["application/json"],
                "tags": ["instruments"],
                "summary": "List instruments",
                "parameters": [
                    {"type": "string", "description": "Ticker, ISIN or name fragment", "name": "search", "in": "query"},
                    {"type": "integer", "description": "Page number (default 1)", "name": "page", "in": "query"},
                    {"type": "integer", "description": "Items per page (default 20, max 100)", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Paginated instruments"},
                    "503": {"description": "Catalog unavailable", "schema": {"$ref": "#/definitions/errors.Response"}}
                }
            }
        },
        "/instruments/{ticker}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["instruments"],
                "summary": "Get instrument",
                "parameters": [
                    {"type": "string", "description": "Ticker or ISIN", "name": "ticker", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "Instrument"},
                    "404": {"description": "Instrument not found", "schema": {"$ref": "#/definitions/errors.Response"}}
                }
            }
        },
        "/rulesets": {
            "get": {
                "produces": ["application/json"],
                "tags": ["rulesets"],
                "summary": "List rule sets",
                "responses": {"200": {"description": "Published rule sets"}}
            }
        },
        "/rulesets/{jurisdiction}/{accountType}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["rulesets"],
                "summary": "Get rule set",
                "parameters": [
                    {"type": "string", "description": "ISO 3166-1 alpha-2 jurisdiction", "name": "jurisdiction", "in": "path", "required": true},
                    {"type": "string", "description": "Account type", "name": "accountType", "in": "path", "required": true},
                    {"type": "string", "description": "Rule-set version", "name": "version", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Rule set"},
                    "404": {"description": "Rule set not found", "schema": {"$ref": "#/definitions/errors.Response"}}
                }
            }
        },
        "/admin/refresh": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Refresh catalog",
                "responses": {
                    "200": {"description": "Refresh report"},
                    "401": {"description": "Invalid API key", "schema": {"$ref": "#/definitions/errors.Response"}},
                    "503": {"description": "Catalog or eligibility engine unavailable", "schema": {"$ref": "#/definitions/errors.Response"}}
                }
            }
        },
        "/admin/rulesets": {
            "post": {
                "security": [{"ApiKeyAuth": []}],
                "consumes": ["application/yaml"],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Publish rule set",
                "responses": {
                    "201": {"description": "Published rule set"},
                    "400": {"description": "Invalid rule set", "schema": {"$ref": "#/definitions/errors.Response"}},
                    "401": {"description": "Invalid API key", "schema": {"$ref": "#/definitions/errors.Response"}},
                    "409": {"description": "Version not newer than the latest", "schema": {"$ref": "#/definitions/errors.Response"}}
                }
            }
        },
        "/admin/audit-logs": {
            "get": {
                "security": [{"ApiKeyAuth": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "List audit logs",
                "parameters": [
                    {"type": "integer", "description": "Page number (default 1)", "name": "page", "in": "query"},
                    {"type": "integer", "description": "Items per page (default 20, max 100)", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "Paginated audit logs"},
                    "401": {"description": "Invalid API key", "schema": {"$ref": "#/definitions/errors.Response"}}
                }
            }
        },
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Health check",
                "responses": {
                    "200": {"description": "Healthy or degraded"},
                    "503": {"description": "Unavailable"}
                }
            }
        }
    },
    "definitions": {
        "errors.Response": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "requestId": {"type": "string"},
                "details": {"type": "object", "additionalProperties": true}
            }
        },
        "handlers.DiscoveryRequest": {
            "type": "object",
            "required": ["investorProfile"],
            "properties": {
                "investorProfile": {
                    "type": "object",
                    "required": ["country", "accountType"],
                    "properties": {
                        "country": {"type": "string", "example": "ZA"},
                        "accountType": {"type": "string", "example": "TFSA"},
                        "currency": {"type": "string", "example": "ZAR"}
                    }
                },
                "exposure": {"type": "object"},
                "investmentVehicles": {"type": "array", "items": {"type": "string"}},
                "constraints": {"type": "object"},
                "rankingPreferences": {"type": "array", "items": {"type": "object"}},
                "outputOptions": {"type": "object"},
                "ruleVersion": {"type": "string"}
            }
        },
        "handlers.DiscoveryResponse": {
            "type": "object",
            "properties": {
                "requestId": {"type": "string"},
                "results": {"type": "array", "items": {"type": "object"}},
                "alternatives": {"type": "array", "items": {"type": "object"}},
                "summary": {"type": "object"},
                "warnings": {"type": "array", "items": {"type": "object"}},
                "generatedAt": {"type": "string"},
                "cacheHit": {"type": "boolean"},
                "snapshotVersion": {"type": "string"},
                "ruleVersion": {"type": "string"},
                "weights": {"type": "object", "additionalProperties": {"type": "number"}}
            }
        }
    },
    "securityDefinitions": {
        "ApiKeyAuth": {
            "type": "apiKey",
            "name": "X-API-Key",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "ETF Discovery API",
	Description:      "Discovers, screens and ranks exchange-traded funds an investor may hold in a given jurisdiction and account type.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
