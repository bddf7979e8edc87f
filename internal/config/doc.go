// Package config loads test definitions.
//
// A test definition is a YAML document describing the states an environment
// must move through. Parsing resolves everything up front: rules are
// compiled and actions are built while loading, so configuration mistakes
// surface before anything starts running.
//
// # Definition Format
//
// A definition carries an optional test timeout in seconds, an optional
// state_order, and the states mapping:
//
//	timeout: 90
//	state_order: random
//	states:
//	  boot:
//	    description: Wait for the servers to come up
//	    host1:
//	      actions:
//	        - run_command:
//	            command: radiusd -X
//	    verify:
//	      timeout: 10
//	      triggers:
//	        - status:
//	            pattern: "^Ready"
//
// State keys other than description and verify name a host; each host block
// contributes actions that run when the state starts. Trigger entries bind
// an attribute name to the conditions arriving events must satisfy.
//
// # Loading
//
// Load reads a single definition and names the test after the file and the
// compose project it will run against. LoadDir walks a directory in name
// order and skips definitions that do not parse, reporting them without
// stopping the rest; a single-file Load failing is an error the caller
// sees. Defaults are applied at load time: 40s test timeout, sequence
// ordering, 15s state timeout.
package config
