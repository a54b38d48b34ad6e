// Package docs holds the Swagger document of the status API, in the form
// swag generates from the handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/stats": {
            "get": {
                "description": "Row counts per processing status and identification cache totals.",
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Ledger and cache statistics",
                "operationId": "getStats",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.StatsResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/videos": {
            "get": {
                "description": "Paginated ledger rows, optionally filtered by status.",
                "produces": ["application/json"],
                "tags": ["videos"],
                "summary": "List ledger rows",
                "operationId": "listVideos",
                "parameters": [
                    {"type": "string", "description": "pending|processing|completed|failed|rolled_back", "name": "status", "in": "query"},
                    {"type": "integer", "default": 1, "description": "Page (1-based)", "name": "page", "in": "query"},
                    {"type": "integer", "default": 20, "description": "Page size (max 100)", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListVideosResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/videos/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["videos"],
                "summary": "One ledger row",
                "operationId": "getVideo",
                "parameters": [
                    {"type": "string", "description": "YouTube video ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/domain.ProcessedVideo"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/rollback-candidates": {
            "get": {
                "produces": ["application/json"],
                "tags": ["videos"],
                "summary": "Completed videos whose original title can be restored",
                "operationId": "listRollbackCandidates",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.RollbackCandidatesResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/games": {
            "get": {
                "produces": ["application/json"],
                "tags": ["status"],
                "summary": "Per-game ledger totals",
                "operationId": "listGames",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.GamesResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.CacheStats": {
            "type": "object",
            "properties": {
                "total": {"type": "integer"},
                "active": {"type": "integer"},
                "expired": {"type": "integer"},
                "max_accessed": {"type": "integer"}
            }
        },
        "domain.GameSummary": {
            "type": "object",
            "properties": {
                "game_name": {"type": "string"},
                "total": {"type": "integer"},
                "completed": {"type": "integer"}
            }
        },
        "domain.ProcessedVideo": {
            "type": "object",
            "properties": {
                "video_id": {"type": "string"},
                "original_title": {"type": "string"},
                "new_title": {"type": "string"},
                "game_name": {"type": "string"},
                "boss_name": {"type": "string"},
                "status": {"type": "string", "enum": ["pending", "processing", "completed", "failed", "rolled_back"]},
                "attempts": {"type": "integer"},
                "last_attempt_at": {"type": "string"},
                "error_message": {"type": "string"},
                "error_category": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "domain.RollbackCandidate": {
            "type": "object",
            "properties": {
                "video_id": {"type": "string"},
                "game_name": {"type": "string"},
                "boss_name": {"type": "string"},
                "current_title": {"type": "string"},
                "original_title": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"},
                "code": {"type": "string", "example": "not_found"},
                "message": {"type": "string", "example": "video not in ledger"}
            }
        },
        "handlers.GamesResponse": {
            "type": "object",
            "properties": {
                "games": {"type": "array", "items": {"$ref": "#/definitions/domain.GameSummary"}}
            }
        },
        "handlers.ListVideosResponse": {
            "type": "object",
            "properties": {
                "videos": {"type": "array", "items": {"$ref": "#/definitions/domain.ProcessedVideo"}},
                "pagination": {"$ref": "#/definitions/handlers.Pagination"}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"},
                "has_next": {"type": "boolean"}
            }
        },
        "handlers.RollbackCandidatesResponse": {
            "type": "object",
            "properties": {
                "candidates": {"type": "array", "items": {"$ref": "#/definitions/domain.RollbackCandidate"}}
            }
        },
        "handlers.StatsResponse": {
            "type": "object",
            "properties": {
                "videos": {"type": "object", "additionalProperties": {"type": "integer"}},
                "total": {"type": "integer"},
                "cache": {"$ref": "#/definitions/domain.CacheStats"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Boss Title Updater status API",
	Description:      "Read-only view of the processing ledger and identification cache.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
