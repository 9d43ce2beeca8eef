package proxy

// Version is stamped into the Server header of every default response
// and printed by `pyroxd --version` (SPEC_FULL.md §C.1, ancestor:
// pyrox/about.py).
const Version = "0.9.0"

// ServerHeader is the value of the Server header on default responses
// (spec.md §6 "Default response bodies").
const ServerHeader = "pyrox/" + Version
