// Package policy gates printer installs with Open Policy Agent (OPA).
//
// Each policy is a Rego module whose package defines a deny set. The engine
// evaluates every enabled policy against an Input describing the printer,
// the scope that requested it and the client facts. A violation of severity
// error or critical blocks the install; info and warning violations are
// reported but allow it.
//
// A site policy file:
//
//	package site.printers
//
//	import rego.v1
//
//	deny contains violation if {
//	    input.scope == "user"
//	    startswith(input.printer.device_uri, "smb://")
//	    violation := {
//	        "message": "user printers may not use SMB queues",
//	        "severity": "error",
//	    }
//	}
//
// Violations may be plain strings or objects with message and severity
// fields. A violation without a severity takes the severity of its policy.
package policy
