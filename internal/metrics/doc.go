// Package metrics provides observability hooks for the controller.
//
// Components receive a Recorder through their constructor options and default
// to NoopRecorder, so callers never nil-check:
//
//	engine := trigger.NewEngine(graph, store, activity, trigger.WithRecorder(recorder))
//
// PrometheusRecorder registers its collectors on a caller-supplied registry;
// HTTPHandler exposes that registry for scraping.
package metrics
