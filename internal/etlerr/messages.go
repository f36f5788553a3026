package etlerr

// messages.go maps classified errors to support codes and operator guidance.
//
// Codes appear in run reports and HTTP error responses so an operator can
// quote them when investigating a failed file. Codes are grouped by stage:
//
// # Extraction (EXT001-EXT099)
//
//	EXT001 - Source file not found         (kind not_found)
//	EXT002 - Source file is empty          (kind empty)
//	EXT003 - Source path is not readable   (kind unreadable)
//	EXT004 - Invalid bytes for encoding    (kind encoding_error)
//	EXT005 - Malformed delimited text      (kind parse_error)
//
// # Transformation (TRN001-TRN099)
//
//	TRN001 - Input is not a valid table    (kind type_mismatch)
//	TRN002 - Transformation step failed    (kind transform_failed)
//
// # Load (LOD001-LOD099)
//
//	LOD001 - Destination already exists    (kind already_exists)
//	LOD002 - Destination unreachable       (kind connection_error)
//	LOD003 - Destination rejected rows     (kind write_error)
//	LOD004 - Duplicate key                 (patterns "duplicate key", "unique constraint")
//	LOD005 - Column mismatch               (patterns "no such column", "has no column named", "unknown column")
//	LOD006 - Authentication failed         (patterns "password authentication failed", "access denied")
//
// # Output and run (OUT001, RUN001-RUN099)
//
//	OUT001 - Processed file not written    (kind output_error)
//	RUN001 - Run cancelled                 (kind cancelled)
//	RUN002 - Run already in progress       (pattern "run already in progress")
//	RUN003 - Raw directory missing         (pattern "raw directory not found")
//	RUN004 - Unknown run ID                (pattern "run not found")
//
// # Default (ERR000)
//
// Fallback when neither the pattern table nor the kind table matches.
// Operators should read the pipeline log for the technical error.
//
// Patterns are matched case-insensitively with strings.Contains and are
// checked before the kind table, so a specific database message wins over
// the generic write_error entry. The first match wins.

import (
	"fmt"
	"strings"
)

// UserMessage provides operator-facing error information.
type UserMessage struct {
	Message string `json:"message"`
	Action  string `json:"action"`
	Code    string `json:"code"`
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

var errorPatterns = []errorPattern{
	{
		pattern: "duplicate key",
		msg: UserMessage{
			Message: "Rows collide with an existing primary or unique key",
			Action:  "Use LOAD_IF_EXISTS=replace or remove the conflicting rows",
			Code:    "LOD004",
		},
	},
	{
		pattern: "unique constraint",
		msg: UserMessage{
			Message: "Rows collide with an existing primary or unique key",
			Action:  "Use LOAD_IF_EXISTS=replace or remove the conflicting rows",
			Code:    "LOD004",
		},
	},
	{
		pattern: "no such column",
		msg: UserMessage{
			Message: "Destination table does not have the file's columns",
			Action:  "Align the file header with the table or load with LOAD_IF_EXISTS=replace",
			Code:    "LOD005",
		},
	},
	{
		pattern: "has no column named",
		msg: UserMessage{
			Message: "Destination table does not have the file's columns",
			Action:  "Align the file header with the table or load with LOAD_IF_EXISTS=replace",
			Code:    "LOD005",
		},
	},
	{
		pattern: "unknown column",
		msg: UserMessage{
			Message: "Destination table does not have the file's columns",
			Action:  "Align the file header with the table or load with LOAD_IF_EXISTS=replace",
			Code:    "LOD005",
		},
	},
	{
		pattern: "password authentication failed",
		msg: UserMessage{
			Message: "Destination rejected the configured credentials",
			Action:  "Check POSTGRES_USER and POSTGRES_PASSWORD",
			Code:    "LOD006",
		},
	},
	{
		pattern: "access denied",
		msg: UserMessage{
			Message: "Destination rejected the configured credentials",
			Action:  "Check POSTGRES_USER and POSTGRES_PASSWORD",
			Code:    "LOD006",
		},
	},
	{
		pattern: "run already in progress",
		msg: UserMessage{
			Message: "Another pipeline run is in progress",
			Action:  "Wait for the active run to finish and try again",
			Code:    "RUN002",
		},
	},
	{
		pattern: "raw directory not found",
		msg: UserMessage{
			Message: "Raw input directory does not exist",
			Action:  "Create PIPELINE_RAW_DIR or point it at an existing directory",
			Code:    "RUN003",
		},
	},
	{
		pattern: "run not found",
		msg: UserMessage{
			Message: "No run with that ID is known",
			Action:  "List runs with GET /api/runs to find a valid ID",
			Code:    "RUN004",
		},
	},
}

var kindMessages = map[Kind]UserMessage{
	NotFound: {
		Message: "Source file not found",
		Action:  "Check that the file was not moved during the run",
		Code:    "EXT001",
	},
	Empty: {
		Message: "Source file is empty",
		Action:  "Provide a file with a header row",
		Code:    "EXT002",
	},
	Unreadable: {
		Message: "Source path cannot be read as a file",
		Action:  "Check permissions and that the path is a regular file",
		Code:    "EXT003",
	},
	EncodingError: {
		Message: "File contains bytes that are invalid for its encoding",
		Action:  "Set EXTRACT_ENCODING to the file's real encoding or re-save it as UTF-8",
		Code:    "EXT004",
	},
	ParseError: {
		Message: "File is not well-formed delimited text",
		Action:  "Check quoting and the EXTRACT_DELIMITER setting",
		Code:    "EXT005",
	},
	TypeMismatch: {
		Message: "Transformation received an invalid table",
		Action:  "Check the pipeline log for the extraction result",
		Code:    "TRN001",
	},
	TransformFailed: {
		Message: "A transformation step failed",
		Action:  "Check TRANSFORM_* settings against the file's columns",
		Code:    "TRN002",
	},
	AlreadyExists: {
		Message: "Destination table already exists",
		Action:  "Use LOAD_IF_EXISTS=append or replace",
		Code:    "LOD001",
	},
	ConnectionError: {
		Message: "Destination is unreachable",
		Action:  "Check the destination host, port and network",
		Code:    "LOD002",
	},
	WriteError: {
		Message: "Destination rejected the rows",
		Action:  "Check column types against the destination schema",
		Code:    "LOD003",
	},
	OutputError: {
		Message: "Processed file could not be written",
		Action:  "Check free space and permissions on PIPELINE_PROCESSED_DIR",
		Code:    "OUT001",
	},
	Cancelled: {
		Message: "Run was cancelled",
		Action:  "Start a new run when ready",
		Code:    "RUN001",
	},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Check the pipeline log for details",
	Code:    "ERR000",
}

// MapError converts an error to an operator-facing message.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	if msg, ok := kindMessages[KindOf(err)]; ok {
		return msg
	}

	return defaultMessage
}

// FormatUserError formats err as "Message (Code: XXX). Action".
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to a specific code rather than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}
