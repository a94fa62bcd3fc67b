// Package docs holds the OpenAPI document of the dispatch API, served by
// gin-swagger under /swagger. Regenerate it from the handler annotations
// with: swag init --v3.1 -g cmd/server/main.go -o docs
package docs

import "github.com/swaggo/swag/v2"

const docTemplate = `{
    "openapi": "3.1.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}",
        "license": {"name": "Proprietary"}
    },
    "servers": [{"url": "{{.BasePath}}"}],
    "tags": [
        {"name": "leads", "description": "Dispatch and resend leads"},
        {"name": "dispatch", "description": "Batches, dead units and statistics"},
        {"name": "integrations", "description": "Integration types, credential checks and synchronous sends"},
        {"name": "system", "description": "Health and service information"}
    ],
    "paths": {
        "/leads/{id}/dispatch": {
            "post": {
                "operationId": "dispatchLead",
                "summary": "Dispatch a lead",
                "description": "Detects the lead's integrations and enqueues a dispatch job",
                "tags": ["leads"],
                "parameters": [{"$ref": "#/components/parameters/LeadID"}],
                "responses": {
                    "202": {"$ref": "#/components/responses/Accepted"},
                    "400": {"$ref": "#/components/responses/Error"},
                    "404": {"$ref": "#/components/responses/Error"},
                    "422": {"$ref": "#/components/responses/Error"},
                    "500": {"$ref": "#/components/responses/Error"}
                }
            }
        },
        "/leads/{id}/resend": {
            "post": {
                "operationId": "resendLead",
                "summary": "Resend a lead",
                "description": "Creates a new batch for the lead, optionally restricted to some integration types. Limited per lead.",
                "tags": ["leads"],
                "parameters": [{"$ref": "#/components/parameters/LeadID"}],
                "requestBody": {
                    "required": false,
                    "content": {"application/json": {"schema": {"$ref": "#/components/schemas/ResendLeadRequest"}}}
                },
                "responses": {
                    "201": {"$ref": "#/components/responses/Data"},
                    "202": {"$ref": "#/components/responses/Accepted"},
                    "404": {"$ref": "#/components/responses/Error"},
                    "413": {"$ref": "#/components/responses/Error"},
                    "422": {"$ref": "#/components/responses/Error"},
                    "429": {"$ref": "#/components/responses/Error"}
                }
            }
        },
        "/leads/resend": {
            "post": {
                "operationId": "bulkResendLeads",
                "summary": "Resend many leads",
                "tags": ["leads"],
                "requestBody": {
                    "required": true,
                    "content": {"application/json": {"schema": {"$ref": "#/components/schemas/BulkResendLeadsRequest"}}}
                },
                "responses": {
                    "202": {"$ref": "#/components/responses/Data"},
                    "413": {"$ref": "#/components/responses/Error"},
                    "422": {"$ref": "#/components/responses/Error"}
                }
            }
        },
        "/batches/{id}": {
            "get": {
                "operationId": "getBatch",
                "summary": "Get a batch",
                "description": "Batch status with its dispatch units",
                "tags": ["dispatch"],
                "parameters": [{"$ref": "#/components/parameters/ID"}],
                "responses": {
                    "200": {"$ref": "#/components/responses/Data"},
                    "400": {"$ref": "#/components/responses/Error"},
                    "404": {"$ref": "#/components/responses/Error"}
                }
            }
        },
        "/dispatch/dead": {
            "get": {
                "operationId": "listDeadDispatchUnits",
                "summary": "List dead dispatch units",
                "tags": ["dispatch"],
                "parameters": [
                    {"name": "page", "in": "query", "schema": {"type": "integer", "default": 1}},
                    {"name": "page_size", "in": "query", "schema": {"type": "integer", "default": 20, "maximum": 100}}
                ],
                "responses": {
                    "200": {"$ref": "#/components/responses/Data"},
                    "422": {"$ref": "#/components/responses/Error"}
                }
            }
        },
        "/dispatch/units/{id}/retry": {
            "post": {
                "operationId": "retryDispatchUnit",
                "summary": "Retry a dead dispatch unit",
                "tags": ["dispatch"],
                "parameters": [{"$ref": "#/components/parameters/ID"}],
                "responses": {
                    "200": {"$ref": "#/components/responses/Data"},
                    "404": {"$ref": "#/components/responses/Error"},
                    "409": {"$ref": "#/components/responses/Error"},
                    "422": {"$ref": "#/components/responses/Error"}
                }
            }
        },
        "/dispatch/stats": {
            "get": {
                "operationId": "getDispatchStats",
                "summary": "Dispatch unit statistics",
                "tags": ["dispatch"],
                "responses": {"200": {"$ref": "#/components/responses/Data"}}
            }
        },
        "/integrations/types": {
            "get": {
                "operationId": "listIntegrationTypes",
                "summary": "List integration types",
                "tags": ["integrations"],
                "responses": {"200": {"$ref": "#/components/responses/Data"}}
            }
        },
        "/integrations/{type}/test": {
            "post": {
                "operationId": "testIntegrationConnection",
                "summary": "Test integration credentials",
                "tags": ["integrations"],
                "parameters": [{"$ref": "#/components/parameters/Type"}],
                "requestBody": {
                    "required": true,
                    "content": {"application/json": {"schema": {"$ref": "#/components/schemas/TestConnectionRequest"}}}
                },
                "responses": {
                    "200": {"$ref": "#/components/responses/Data"},
                    "400": {"$ref": "#/components/responses/Error"},
                    "422": {"$ref": "#/components/responses/Error"}
                }
            }
        },
        "/integrations/{type}/send": {
            "post": {
                "operationId": "sendLeadToIntegration",
                "summary": "Send a lead synchronously",
                "tags": ["integrations"],
                "parameters": [{"$ref": "#/components/parameters/Type"}],
                "requestBody": {
                    "required": true,
                    "content": {"application/json": {"schema": {"$ref": "#/components/schemas/SendLeadRequest"}}}
                },
                "responses": {
                    "200": {"$ref": "#/components/responses/Data"},
                    "400": {"$ref": "#/components/responses/Error"},
                    "404": {"$ref": "#/components/responses/Error"},
                    "413": {"$ref": "#/components/responses/Error"},
                    "422": {"$ref": "#/components/responses/Error"},
                    "500": {"$ref": "#/components/responses/Error"}
                }
            }
        },
        "/system/info": {
            "get": {
                "operationId": "getSystemInfo",
                "summary": "Get system information",
                "tags": ["system"],
                "responses": {"200": {"$ref": "#/components/responses/Data"}}
            }
        },
        "/system/ping": {
            "get": {
                "operationId": "pingSystem",
                "summary": "Ping the API",
                "tags": ["system"],
                "responses": {"200": {"$ref": "#/components/responses/Data"}}
            }
        }
    },
    "components": {
        "parameters": {
            "ID": {"name": "id", "in": "path", "required": true, "schema": {"type": "string", "format": "uuid"}},
            "LeadID": {"name": "id", "in": "path", "required": true, "description": "Lead ID", "schema": {"type": "string", "format": "uuid"}},
            "Type": {"name": "type", "in": "path", "required": true, "description": "Integration type", "schema": {"type": "string", "examples": ["amocrm"]}}
        },
        "responses": {
            "Data": {
                "description": "Success",
                "content": {"application/json": {"schema": {"$ref": "#/components/schemas/APIResponse"}}}
            },
            "Accepted": {
                "description": "Dispatch job enqueued",
                "content": {"application/json": {"schema": {"$ref": "#/components/schemas/APIResponse"}}}
            },
            "Error": {
                "description": "Error",
                "content": {"application/json": {"schema": {"$ref": "#/components/schemas/ErrorResponse"}}}
            }
        },
        "schemas": {
            "APIResponse": {
                "type": "object",
                "properties": {
                    "success": {"type": "boolean"},
                    "message": {"type": "string"},
                    "data": {},
                    "meta": {"$ref": "#/components/schemas/Meta"}
                }
            },
            "Meta": {
                "type": "object",
                "properties": {
                    "total": {"type": "integer"},
                    "page": {"type": "integer"},
                    "page_size": {"type": "integer"},
                    "total_pages": {"type": "integer"}
                }
            },
            "ErrorInfo": {
                "type": "object",
                "properties": {
                    "code": {"type": "string", "examples": ["ERR_NOT_FOUND"]},
                    "message": {"type": "string"},
                    "request_id": {"type": "string"},
                    "details": {
                        "type": "array",
                        "items": {
                            "type": "object",
                            "properties": {"field": {"type": "string"}, "message": {"type": "string"}}
                        }
                    }
                }
            },
            "ErrorResponse": {
                "type": "object",
                "properties": {
                    "success": {"type": "boolean", "examples": [false]},
                    "message": {"type": "string"},
                    "error": {"$ref": "#/components/schemas/ErrorInfo"}
                }
            },
            "ResendLeadRequest": {
                "type": "object",
                "properties": {
                    "types": {"type": "array", "maxItems": 16, "items": {"type": "string"}},
                    "credentials": {"type": "object", "description": "Credential overrides per integration type", "additionalProperties": {"type": "object"}},
                    "wait": {"type": "boolean", "description": "Create the batch in the request instead of enqueueing a job"}
                }
            },
            "BulkResendLeadsRequest": {
                "type": "object",
                "required": ["lead_ids"],
                "properties": {
                    "lead_ids": {"type": "array", "minItems": 1, "maxItems": 500, "items": {"type": "string", "format": "uuid"}},
                    "types": {"type": "array", "maxItems": 16, "items": {"type": "string"}},
                    "credentials": {"type": "object", "additionalProperties": {"type": "object"}}
                }
            },
            "TestConnectionRequest": {
                "type": "object",
                "required": ["credentials"],
                "properties": {"credentials": {"type": "object", "additionalProperties": true}}
            },
            "SendLeadRequest": {
                "type": "object",
                "required": ["lead_id", "credentials"],
                "properties": {
                    "lead_id": {"type": "string", "format": "uuid"},
                    "credentials": {"type": "object", "additionalProperties": true}
                }
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
	Title:            "Leadflow Dispatch API",
	Description:      "Dispatches leads to CRMs, messengers and mailing services and tracks every delivery attempt.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
