package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Observation API",
        "description": "School observation dashboard: client sessions, role selection, observation records and reports",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http",
        "https"
    ],
    "tags": [
        {"name": "Sessions", "description": "Client session lifecycle, authentication and role selection"},
        {"name": "Observations", "description": "Observation catalog, bucket records and approvals"},
        {"name": "Reports", "description": "Aggregated summary and export"}
    ],
    "paths": {
        "/sessions": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Open client session",
                "parameters": [
                    {"name": "payload", "in": "body", "required": false, "schema": {"$ref": "#/definitions/CreateSessionRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/verify": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Verify email address",
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid token", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/session": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Session snapshot",
                "parameters": [{"$ref": "#/parameters/SessionHeader"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Unknown session", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Sessions"],
                "summary": "Close client session",
                "parameters": [{"$ref": "#/parameters/SessionHeader"}],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/session/events": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Stream session snapshots",
                "produces": ["text/event-stream"],
                "parameters": [
                    {"name": "session", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "Event stream"}
                }
            }
        },
        "/session/sign-in": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Sign in with email and password",
                "parameters": [
                    {"$ref": "#/parameters/SessionHeader"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CredentialsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/session/sign-up": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Create account",
                "parameters": [
                    {"$ref": "#/parameters/SessionHeader"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CredentialsRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Email in use", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "422": {"description": "Weak password", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/session/sign-out": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Sign out",
                "parameters": [{"$ref": "#/parameters/SessionHeader"}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/session/verification": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Send verification email",
                "parameters": [{"$ref": "#/parameters/SessionHeader"}],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/session/verification/refresh": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Reload verification state",
                "parameters": [{"$ref": "#/parameters/SessionHeader"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/session/role": {
            "post": {
                "tags": ["Sessions"],
                "summary": "Assign role",
                "parameters": [
                    {"$ref": "#/parameters/SessionHeader"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AssignRoleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Role already assigned", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/screens/{screen}": {
            "get": {
                "tags": ["Sessions"],
                "summary": "Resolve screen",
                "parameters": [
                    {"$ref": "#/parameters/SessionHeader"},
                    {"name": "screen", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/observations": {
            "get": {
                "tags": ["Observations"],
                "summary": "Observation catalog",
                "parameters": [{"$ref": "#/parameters/SessionHeader"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/observations/{type}/records": {
            "get": {
                "tags": ["Observations"],
                "summary": "Observation history",
                "parameters": [
                    {"$ref": "#/parameters/SessionHeader"},
                    {"$ref": "#/parameters/ObservationType"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Screen not available", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "404": {"description": "Unknown type", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/observations/{type}/stream": {
            "get": {
                "tags": ["Observations"],
                "summary": "Stream observation history",
                "produces": ["text/event-stream"],
                "parameters": [
                    {"name": "session", "in": "query", "required": true, "type": "string"},
                    {"$ref": "#/parameters/ObservationType"}
                ],
                "responses": {
                    "200": {"description": "Event stream"}
                }
            }
        },
        "/observations/{type}/records/{bucket}": {
            "put": {
                "tags": ["Observations"],
                "summary": "Upsert bucket record",
                "parameters": [
                    {"$ref": "#/parameters/SessionHeader"},
                    {"$ref": "#/parameters/ObservationType"},
                    {"name": "bucket", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpsertRecordRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid bucket or payload", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "403": {"description": "Permission denied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/observations/{type}/records/{bucket}/entries": {
            "post": {
                "tags": ["Observations"],
                "summary": "Append bucket entry",
                "parameters": [
                    {"$ref": "#/parameters/SessionHeader"},
                    {"$ref": "#/parameters/ObservationType"},
                    {"name": "bucket", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/AppendEntryRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/observations/{type}/requests": {
            "post": {
                "tags": ["Observations"],
                "summary": "Request approval",
                "parameters": [
                    {"$ref": "#/parameters/SessionHeader"},
                    {"$ref": "#/parameters/ObservationType"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/ApprovalRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Duplicate request", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/observations/{type}/requests/{id}/decision": {
            "post": {
                "tags": ["Observations"],
                "summary": "Decide approval request",
                "parameters": [
                    {"$ref": "#/parameters/SessionHeader"},
                    {"$ref": "#/parameters/ObservationType"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecisionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Already decided", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/summary": {
            "get": {
                "tags": ["Reports"],
                "summary": "Report summary",
                "parameters": [{"$ref": "#/parameters/SessionHeader"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/reports/export": {
            "get": {
                "tags": ["Reports"],
                "summary": "Export report",
                "produces": ["text/csv", "application/pdf"],
                "parameters": [
                    {"$ref": "#/parameters/SessionHeader"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "Report file"},
                    "403": {"description": "Permission denied", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "parameters": {
        "SessionHeader": {"name": "X-Client-Session", "in": "header", "required": true, "type": "string"},
        "ObservationType": {"name": "type", "in": "path", "required": true, "type": "string"}
    },
    "definitions": {
        "CreateSessionRequest": {
            "type": "object",
            "properties": {
                "customToken": {"type": "string"}
            }
        },
        "CredentialsRequest": {
            "type": "object",
            "required": ["email", "password"],
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            }
        },
        "AssignRoleRequest": {
            "type": "object",
            "required": ["role"],
            "properties": {
                "role": {"type": "string"}
            }
        },
        "UpsertRecordRequest": {
            "type": "object",
            "properties": {
                "fields": {"type": "object"}
            }
        },
        "AppendEntryRequest": {
            "type": "object",
            "properties": {
                "entry": {"type": "object"}
            }
        },
        "ApprovalRequest": {
            "type": "object",
            "required": ["bucketKey"],
            "properties": {
                "bucketKey": {"type": "string"},
                "fields": {"type": "object"}
            }
        },
        "DecisionRequest": {
            "type": "object",
            "required": ["decision"],
            "properties": {
                "decision": {"type": "string", "enum": ["approve", "reject", "approved", "rejected"]}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
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
