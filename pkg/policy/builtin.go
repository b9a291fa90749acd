package policy

// GetBuiltinPolicies returns all built-in policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		queueNamingPolicy(),
		deviceURIPolicy(),
		ppdSourcePolicy(),
	}
}

// queueNamingPolicy rejects names lpadmin would refuse.
func queueNamingPolicy() Policy {
	return Policy{
		Name:        "queue-naming",
		Description: "Queue names must be 1-127 characters without spaces, '/' or '#'",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package managedmac.printers.naming

import rego.v1

deny contains violation if {
	regex.match("[\\s/#]", input.printer.name)
	violation := {
		"message": sprintf("queue name '%s' contains a space, '/' or '#'", [input.printer.name]),
		"severity": "error",
	}
}

deny contains violation if {
	count(input.printer.name) > 127
	violation := {
		"message": "queue name is longer than 127 characters",
		"severity": "error",
	}
}
`,
	}
}

// deviceURIPolicy requires a scheme on the device URI.
func deviceURIPolicy() Policy {
	return Policy{
		Name:        "device-uri",
		Description: "Device URIs must carry a scheme such as lpd:, ipp: or socket:",
		Severity:    SeverityError,
		Enabled:     true,
		Rego: `package managedmac.printers.device_uri

import rego.v1

deny contains violation if {
	not regex.match("^[A-Za-z][A-Za-z0-9+.-]*:", input.printer.device_uri)
	violation := {
		"message": sprintf("device URI '%s' has no scheme", [input.printer.device_uri]),
		"severity": "error",
	}
}
`,
	}
}

// ppdSourcePolicy flags PPDs downloaded over plain http.
func ppdSourcePolicy() Policy {
	return Policy{
		Name:        "ppd-source",
		Description: "Warns when a PPD is downloaded over plain http",
		Severity:    SeverityWarning,
		Enabled:     true,
		Rego: `package managedmac.printers.ppd_source

import rego.v1

deny contains violation if {
	not input.printer.driver
	startswith(lower(input.printer.ppd_url), "http://")
	violation := {
		"message": sprintf("PPD for %s is downloaded over plain http", [input.printer.name]),
		"severity": "warning",
	}
}
`,
	}
}
