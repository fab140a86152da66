// Package assign extracts task assignments from orchestrator output.
//
// Orchestrators delegate work with a small block language:
//
//	@worker:Backend
//	Fix the SQL query in the report handler.
//	@end
//
// A block starts at a @worker: marker whose name runs to the end of the
// line. The body runs until @end, the next marker or the end of input.
// Text outside blocks is ignored. Names are resolved against the known
// workers with a case-insensitive exact match first and substring
// containment second.
package assign
