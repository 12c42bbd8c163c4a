package queue

import "strings"

// DefaultKeyPrefix namespaces every key the queue writes to the store.
const DefaultKeyPrefix = "relayq:"

// Fixed key suffixes under the prefix.
const (
	registrySuffix     = "registered"
	failuresSuffix     = "failures"
	systemErrorsSuffix = "system_errors"
	dedupSuffix        = "dedup:"
)

// Keys builds and parses the store key scheme:
//
//	{prefix}{priority}:{namespace}.{processor}  per-processor queue
//	{prefix}registered                          set of every queue key pushed to
//	{prefix}failures                            terminal queue, business exhaustion
//	{prefix}system_errors                       terminal queue, structural problems
type Keys struct {
	Prefix string
}

// NewKeys returns a key scheme under the given prefix, falling back to
// DefaultKeyPrefix when empty.
func NewKeys(prefix string) Keys {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return Keys{Prefix: prefix}
}

// QueueName returns the logical queue name for a processor, qualified by its
// namespace when present.
func QueueName(namespace, processor string) string {
	if namespace == "" {
		return processor
	}
	return namespace + "." + processor
}

// Queue returns the store key for a processor's queue at the given priority.
func (k Keys) Queue(namespace, processor string, priority Priority) string {
	return k.Prefix + string(priority) + ":" + QueueName(namespace, processor)
}

// Registry returns the key of the set holding every known queue key.
func (k Keys) Registry() string { return k.Prefix + registrySuffix }

// Failures returns the terminal queue key for jobs that exhausted retries.
func (k Keys) Failures() string { return k.Prefix + failuresSuffix }

// SystemErrors returns the terminal queue key for malformed or misconfigured
// jobs.
func (k Keys) SystemErrors() string { return k.Prefix + systemErrorsSuffix }

// Dedup returns the key guarding a producer-supplied dedup key.
func (k Keys) Dedup(dedupKey string) string { return k.Prefix + dedupSuffix + dedupKey }

// PriorityOf extracts the priority segment from a queue key. The second
// return value is false for keys outside this scheme (including the registry
// and terminal keys).
func (k Keys) PriorityOf(key string) (Priority, bool) {
	rest, ok := strings.CutPrefix(key, k.Prefix)
	if !ok {
		return "", false
	}
	seg, _, ok := strings.Cut(rest, ":")
	if !ok {
		return "", false
	}
	p := Priority(seg)
	if !p.Valid() {
		return "", false
	}
	return p, true
}
