// Package event defines the progress and result events a task emits and a
// bus that delivers them to observers.
//
// The bus is synchronous: Publish returns after every handler ran. The
// serve command subscribes an [NDJSONWriter] to stdout, so each
// [ProgressEvent] and [ResultEvent] becomes one line of the form
//
//	{"type":"PROGRESS","status":"RUNNING","taskId":"t1","targetId":"r-1","phase":"submit","current":10,"total":25,"percentage":40}
//
// Tests subscribe a recorder instead.
package event
