package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectPrefix      = "rpc"
	SubjectChangeEvent = "rpc.registry.changed"
)

// Protocol tokens used in entry point subjects.
const (
	TokenJSONRPC = "jsonrpc"
	TokenXMLRPC  = "xmlrpc"
)

var subjectReplacer = strings.NewReplacer(" ", "_", "*", "_", ">", "_", "\t", "_")

// sanitizeToken makes s safe to use inside a subject.
func sanitizeToken(s string) string {
	return subjectReplacer.Replace(s)
}

// BuildChangeSubject builds a granular change event subject for one method.
func BuildChangeSubject(globalSubject, method string) string {
	return fmt.Sprintf("%s.%s", globalSubject, sanitizeToken(method))
}

// BuildEntryPointSubject builds the subject an entry point listens on for one
// protocol, e.g. "rpc.api.jsonrpc".
func BuildEntryPointSubject(prefix, entryPoint, protocolToken string) string {
	if prefix == "" {
		prefix = SubjectPrefix
	}
	safe := strings.ReplaceAll(sanitizeToken(entryPoint), ".", "_")
	return fmt.Sprintf("%s.%s.%s", prefix, safe, protocolToken)
}
