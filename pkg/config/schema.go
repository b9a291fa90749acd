package config

// clientSchema is unified with every preferences file. Fields omitted by
// the file take the marked defaults.
const clientSchema = `
#Client: {
	repo_url:          *"http://munki/managedmac" | string
	client_identifier: *"" | string
	data_dir:          *"/Library/ManagedMac" | string
	state_backend:     *"document" | "sqlite"
	policy_file:       *"" | string

	ssh: {
		user:                     *"" | string
		key_path:                 *"" | string
		known_hosts:              *"" | string
		strict_host_key_checking: *true | bool
		timeout_seconds:          *30 | int & >0
	}

	http: {
		timeout_seconds: *60 | int & >0
	}

	printers: {
		idle_threshold_seconds: *120 | int & >=0
		max_pending_jobs:       *2 | int & >=0
		drain_timeout_seconds:  *30 | int & >=0
		poll_interval_seconds:  *5 | int & >0
	}

	logging: {
		level:          *"info" | "trace" | "debug" | "warn" | "error"
		format:         *"console" | "json"
		output:         *"" | string
		max_size_bytes: *1000000 | int & >=0
		backups:        *6 | int & >=0
	}

	metrics: {
		enabled:        *true | bool
		textfile:       *"" | string
		listen_address: *"" | string
	}

	tracing: {
		enabled:       *false | bool
		exporter:      *"none" | "otlp" | "stdout"
		endpoint:      *"" | string
		sampling_rate: *1.0 | number & >=0 & <=1
	}

	watch: {
		interval_seconds: *3600 | int & >0
	}
}
`
