// Package docs registers the OpenAPI document served by gin-swagger.
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
        "/proof-request": {
            "post": {
                "produces": ["application/json"],
                "tags": ["Proofs"],
                "summary": "Create a proof request",
                "operationId": "createProofRequest",
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/handlers.ProofRequestResponse"}},
                    "429": {"description": "Rate limited", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "502": {"description": "NDI unavailable", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/proof-results/{threadId}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["Proofs"],
                "summary": "Poll a proof result",
                "operationId": "getProofResult",
                "parameters": [
                    {"type": "string", "example": "thread_1714557600000_k3j9x0q1z", "description": "Local thread id", "name": "threadId", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ProofResultResponse"}},
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/handlers.PendingResponse"}},
                    "400": {"description": "Invalid thread ID format", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "404": {"description": "Proof result not found", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "request_id": {"type": "string"},
                "status": {"type": "string", "example": "error"},
                "code": {"type": "string", "example": "not_found"},
                "error": {"type": "string", "example": "Proof result not found"}
            }
        },
        "handlers.ProofRequestData": {
            "type": "object",
            "properties": {
                "proofRequestURL": {"type": "string"},
                "deepLinkURL": {"type": "string"},
                "threadId": {"type": "string"},
                "qrCodePng": {"type": "string"}
            }
        },
        "handlers.ProofRequestResponse": {
            "type": "object",
            "properties": {"data": {"$ref": "#/definitions/handlers.ProofRequestData"}}
        },
        "handlers.UserData": {
            "type": "object",
            "properties": {"Name": {"type": "string"}, "ID": {"type": "string"}}
        },
        "handlers.ProofResultResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "success"},
                "message": {"type": "string", "example": "Registration successful"},
                "threadId": {"type": "string"},
                "verification_result": {"type": "string", "example": "ProofValidated"},
                "userData": {"$ref": "#/definitions/handlers.UserData"},
                "isExistingUser": {"type": "boolean"},
                "timestamp": {"type": "string"}
            }
        },
        "handlers.PendingResponse": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "example": "pending"},
                "message": {"type": "string", "example": "Proof verification in progress"},
                "threadId": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api",
	Schemes:          []string{},
	Title:            "NDI Proof Backend API",
	Description:      "Creates NDI proof requests, receives verifier webhooks and serves verification results.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
