// Package config loads taskrun settings from a YAML file.
//
// A minimal file:
//
//	scheduler:
//	  max_concurrency: 4
//	  order: lifo
//	  backoff: 100ms
//	log:
//	  level: debug
//	  format: text
//	recurring:
//	  location: UTC
//	  jobs:
//	    - id: cleanup
//	      cron: "0 */2 * * *"
//	    - id: heartbeat
//	      every: 30s
//
// Missing keys keep their defaults. Out-of-range numbers are clamped to the
// nearest accepted value; anything that cannot be interpreted is an error.
package config
