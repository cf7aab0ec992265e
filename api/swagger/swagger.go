package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Memo Registry API",
        "description": "Topic registration and final deposit for supervised memos",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": ["http", "https"],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "in": "header", "name": "Authorization"},
        "AdminKey": {"type": "apiKey", "in": "header", "name": "X-Admin-Key"}
    },
    "tags": [
        {"name": "Registrations", "description": "Student identity check and topic claim"},
        {"name": "Topics", "description": "Topic listing for display"},
        {"name": "Deposits", "description": "Final memo deposit"},
        {"name": "Files", "description": "Signed downloads"},
        {"name": "Admin", "description": "Operator endpoints"}
    ],
    "paths": {
        "/registrations/login": {
            "post": {
                "tags": ["Registrations"],
                "summary": "Verify student identities and open a claim session",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/VerifyRequest"}}
                ],
                "responses": {
                    "200": {"description": "Session issued", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Bad credential", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Student already registered", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/registrations/resolve": {
            "post": {
                "tags": ["Registrations"],
                "summary": "Preview the topic a credential resolves to",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ClaimTargetRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid session", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/registrations/confirm": {
            "post": {
                "tags": ["Registrations"],
                "summary": "Commit the claim for the session's students",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ClaimTargetRequest"}}
                ],
                "responses": {
                    "201": {"description": "Registered", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already claimed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "500": {"description": "Partial commit", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Ledger store unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/registrations": {
            "post": {
                "tags": ["Registrations"],
                "summary": "Verify students and claim a topic in one request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ClaimRequest"}}
                ],
                "responses": {
                    "201": {"description": "Registered", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Validation error", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Bad credential", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already claimed", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/topics": {
            "get": {
                "tags": ["Topics"],
                "summary": "List memo topics",
                "parameters": [
                    {"name": "specialty", "in": "query", "type": "string"},
                    {"name": "supervisor", "in": "query", "type": "string"},
                    {"name": "available", "in": "query", "type": "boolean"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/deposits": {
            "post": {
                "tags": ["Deposits"],
                "summary": "Deposit the final memo document for a claimed topic",
                "consumes": ["multipart/form-data"],
                "parameters": [
                    {"name": "topicId", "in": "formData", "type": "string", "required": true},
                    {"name": "credential", "in": "formData", "type": "string", "required": true},
                    {"name": "file", "in": "formData", "type": "file", "required": true}
                ],
                "responses": {
                    "201": {"description": "Deposited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid document", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already deposited or not registered", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/deposits/{topicId}/artifact": {
            "get": {
                "tags": ["Deposits"],
                "summary": "Issue a signed download link for a deposited memo",
                "security": [{"AdminKey": []}],
                "parameters": [
                    {"name": "topicId", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "No deposit", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/files/{token}": {
            "get": {
                "tags": ["Files"],
                "summary": "Download a deposited memo via signed token",
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "token", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "PDF", "schema": {"type": "file"}},
                    "403": {"description": "Invalid or expired link"}
                }
            }
        },
        "/receipts/{token}": {
            "get": {
                "tags": ["Files"],
                "summary": "Download a registration or deposit receipt via signed token",
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "token", "in": "path", "type": "string", "required": true}
                ],
                "responses": {
                    "200": {"description": "PDF", "schema": {"type": "file"}},
                    "403": {"description": "Invalid or expired link"}
                }
            }
        },
        "/admin/reconciliation": {
            "get": {
                "tags": ["Admin"],
                "summary": "Cross-check the topic, mirror and student ledgers",
                "security": [{"AdminKey": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/admin/topics/export": {
            "get": {
                "tags": ["Admin"],
                "summary": "Export the topic ledger",
                "security": [{"AdminKey": []}],
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "Export file", "schema": {"type": "file"}}
                }
            }
        },
        "/admin/cache/invalidate": {
            "post": {
                "tags": ["Admin"],
                "summary": "Drop cached ledger reads",
                "security": [{"AdminKey": []}],
                "parameters": [
                    {"name": "payload", "in": "body", "schema": {"$ref": "#/definitions/CacheInvalidateRequest"}}
                ],
                "responses": {
                    "204": {"description": "Invalidated"}
                }
            }
        },
        "/admin/system": {
            "get": {
                "tags": ["Admin"],
                "summary": "Show process and coordination counters",
                "security": [{"AdminKey": []}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "StudentLogin": {
            "type": "object",
            "properties": {
                "username": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["username", "password"]
        },
        "VerifyRequest": {
            "type": "object",
            "properties": {
                "mode": {"type": "string", "enum": ["individual", "paired"]},
                "students": {"type": "array", "items": {"$ref": "#/definitions/StudentLogin"}}
            },
            "required": ["mode", "students"]
        },
        "ClaimTargetRequest": {
            "type": "object",
            "properties": {
                "topic_id": {"type": "string"},
                "credential": {"type": "string"}
            },
            "required": ["credential"]
        },
        "ClaimRequest": {
            "type": "object",
            "properties": {
                "mode": {"type": "string", "enum": ["individual", "paired"]},
                "students": {"type": "array", "items": {"$ref": "#/definitions/StudentLogin"}},
                "topic_id": {"type": "string"},
                "credential": {"type": "string"}
            },
            "required": ["mode", "students", "credential"]
        },
        "CacheInvalidateRequest": {
            "type": "object",
            "properties": {
                "tables": {"type": "array", "items": {"type": "string"}}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"type": "object"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
