package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "SMA Timetable API",
        "description": "Class schedule management with conflict detection and scoped publishing",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Timetable", "description": "Schedule entry lifecycle and conflict checks"},
        {"name": "Publishing", "description": "Scope review and draft publishing"},
        {"name": "Teachers", "description": "Teacher timetable and load views"},
        {"name": "System", "description": "Runtime instrumentation"}
    ],
    "paths": {
        "/timetable/entries": {
            "get": {
                "tags": ["Timetable"],
                "summary": "List schedule entries",
                "parameters": [
                    {"name": "schoolId", "in": "query", "type": "string"},
                    {"name": "sessionId", "in": "query", "type": "string"},
                    {"name": "classId", "in": "query", "type": "string"},
                    {"name": "sectionId", "in": "query", "type": "string"},
                    {"name": "teacherId", "in": "query", "type": "string"},
                    {"name": "roomId", "in": "query", "type": "string"},
                    {"name": "dayOfWeek", "in": "query", "type": "string"},
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "sort", "in": "query", "type": "string"},
                    {"name": "order", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Timetable"],
                "summary": "Create schedule entry",
                "parameters": [
                    {"name": "X-Actor-ID", "in": "header", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateEntryRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Slot already taken", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/entries/{id}": {
            "get": {
                "tags": ["Timetable"],
                "summary": "Get schedule entry",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "put": {
                "tags": ["Timetable"],
                "summary": "Update schedule entry",
                "description": "Optimistic update guarded by the version field; published entries reopen to draft.",
                "parameters": [
                    {"name": "X-Actor-ID", "in": "header", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateEntryRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "412": {"description": "Version mismatch", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/entries/{id}/cancel": {
            "post": {
                "tags": ["Timetable"],
                "summary": "Cancel schedule entry",
                "parameters": [
                    {"name": "X-Actor-ID", "in": "header", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/entries/{id}/archive": {
            "post": {
                "tags": ["Timetable"],
                "summary": "Archive schedule entry",
                "parameters": [
                    {"name": "X-Actor-ID", "in": "header", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/entries/{id}/conflicts/{conflictId}/resolve": {
            "post": {
                "tags": ["Timetable"],
                "summary": "Resolve a conflict record",
                "parameters": [
                    {"name": "X-Actor-ID", "in": "header", "required": true, "type": "string"},
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "conflictId", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/conflicts/check": {
            "post": {
                "tags": ["Timetable"],
                "summary": "Preview conflicts for a placement without saving",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CheckConflictsRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/scope": {
            "get": {
                "tags": ["Publishing"],
                "summary": "Scope summary with draft/published/conflict counts",
                "parameters": [
                    {"name": "schoolId", "in": "query", "required": true, "type": "string"},
                    {"name": "sessionId", "in": "query", "required": true, "type": "string"},
                    {"name": "classId", "in": "query", "required": true, "type": "string"},
                    {"name": "sectionId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/scope/conflicts": {
            "get": {
                "tags": ["Publishing"],
                "summary": "Unresolved conflicts within a scope",
                "parameters": [
                    {"name": "schoolId", "in": "query", "required": true, "type": "string"},
                    {"name": "sessionId", "in": "query", "required": true, "type": "string"},
                    {"name": "classId", "in": "query", "required": true, "type": "string"},
                    {"name": "sectionId", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/timetable/publish": {
            "post": {
                "tags": ["Publishing"],
                "summary": "Publish all draft entries in a scope",
                "description": "All-or-nothing: any unresolved conflict in the scope aborts the publish.",
                "parameters": [
                    {"name": "X-Actor-ID", "in": "header", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/PublishRequest"}}
                ],
                "responses": {
                    "200": {"description": "Published", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Unresolved conflicts block publishing", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/teachers/{id}/timetable": {
            "get": {
                "tags": ["Teachers"],
                "summary": "Weekly timetable for a teacher",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "schoolId", "in": "query", "required": true, "type": "string"},
                    {"name": "sessionId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/teachers/{id}/load": {
            "get": {
                "tags": ["Teachers"],
                "summary": "Weekly load report for a teacher",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "schoolId", "in": "query", "required": true, "type": "string"},
                    {"name": "sessionId", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/system/metrics": {
            "get": {
                "tags": ["System"],
                "summary": "Aggregated runtime counters",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "ScheduleEntry": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "school_id": {"type": "string"},
                "academic_session_id": {"type": "string"},
                "class_id": {"type": "string"},
                "section_id": {"type": "string"},
                "subject_id": {"type": "string"},
                "teacher_id": {"type": "string"},
                "room_id": {"type": "string"},
                "day_of_week": {"type": "string", "enum": ["monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"]},
                "period_number": {"type": "integer"},
                "start_time": {"type": "string", "example": "07:30"},
                "end_time": {"type": "string", "example": "08:15"},
                "entry_type": {"type": "string", "enum": ["regular", "exam", "special", "substitute"]},
                "is_break": {"type": "boolean"},
                "status": {"type": "string", "enum": ["draft", "published", "archived", "cancelled"]},
                "conflicts": {
                    "type": "array",
                    "items": {"$ref": "#/definitions/ConflictRecord"}
                },
                "version": {"type": "integer"},
                "created_by": {"type": "string"},
                "updated_by": {"type": "string"},
                "published_by": {"type": "string"},
                "published_at": {"type": "string"},
                "created_at": {"type": "string"},
                "updated_at": {"type": "string"}
            }
        },
        "ConflictRecord": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "type": {"type": "string", "enum": ["teacher_conflict", "room_conflict", "class_conflict", "teacher_load_exceeded"]},
                "severity": {"type": "string", "enum": ["low", "medium", "high", "critical"]},
                "conflicting_entry_id": {"type": "string"},
                "detail": {"type": "string"},
                "resolved": {"type": "boolean"},
                "resolved_by": {"type": "string"},
                "resolved_at": {"type": "string"},
                "detected_at": {"type": "string"}
            }
        },
        "CreateEntryRequest": {
            "type": "object",
            "properties": {
                "school_id": {"type": "string"},
                "academic_session_id": {"type": "string"},
                "class_id": {"type": "string"},
                "section_id": {"type": "string"},
                "subject_id": {"type": "string"},
                "teacher_id": {"type": "string"},
                "room_id": {"type": "string"},
                "day_of_week": {"type": "string"},
                "period_number": {"type": "integer"},
                "start_time": {"type": "string"},
                "end_time": {"type": "string"},
                "entry_type": {"type": "string"},
                "is_break": {"type": "boolean"}
            },
            "required": ["school_id", "academic_session_id", "class_id", "subject_id", "teacher_id", "day_of_week", "period_number", "start_time", "end_time"]
        },
        "UpdateEntryRequest": {
            "type": "object",
            "properties": {
                "subject_id": {"type": "string"},
                "teacher_id": {"type": "string"},
                "room_id": {"type": "string"},
                "section_id": {"type": "string"},
                "day_of_week": {"type": "string"},
                "period_number": {"type": "integer"},
                "start_time": {"type": "string"},
                "end_time": {"type": "string"},
                "entry_type": {"type": "string"},
                "version": {"type": "integer"}
            },
            "required": ["version"]
        },
        "CheckConflictsRequest": {
            "type": "object",
            "properties": {
                "school_id": {"type": "string"},
                "academic_session_id": {"type": "string"},
                "class_id": {"type": "string"},
                "section_id": {"type": "string"},
                "subject_id": {"type": "string"},
                "teacher_id": {"type": "string"},
                "room_id": {"type": "string"},
                "day_of_week": {"type": "string"},
                "period_number": {"type": "integer"},
                "start_time": {"type": "string"},
                "end_time": {"type": "string"},
                "is_break": {"type": "boolean"},
                "exclude_entry_id": {"type": "string"}
            },
            "required": ["school_id", "academic_session_id", "class_id", "subject_id", "teacher_id", "day_of_week", "period_number", "start_time", "end_time"]
        },
        "PublishRequest": {
            "type": "object",
            "properties": {
                "school_id": {"type": "string"},
                "academic_session_id": {"type": "string"},
                "class_id": {"type": "string"},
                "section_id": {"type": "string"}
            },
            "required": ["school_id", "academic_session_id", "class_id"]
        },
        "PublishResult": {
            "type": "object",
            "properties": {
                "scope": {"$ref": "#/definitions/Scope"},
                "published_count": {"type": "integer"},
                "published_by": {"type": "string"},
                "published_at": {"type": "string"}
            }
        },
        "Scope": {
            "type": "object",
            "properties": {
                "school_id": {"type": "string"},
                "academic_session_id": {"type": "string"},
                "class_id": {"type": "string"},
                "section_id": {"type": "string"}
            }
        },
        "TeacherLoad": {
            "type": "object",
            "properties": {
                "teacher_id": {"type": "string"},
                "academic_session_id": {"type": "string"},
                "committed_periods": {"type": "integer"},
                "max_periods_per_week": {"type": "integer"},
                "exceeded": {"type": "boolean"}
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
                "status": {"type": "integer"}
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
