// Package sources implements the Data-Source Collectors (C2): one per
// provisioning origin (local file, cloud-init, and the major cloud
// metadata services), each able to report whether it applies to the
// current host and, if so, load its raw configuration document.
//
// Priority mirrors the precedence order the provisioning agent used when
// several data sources were available on the same host: a lower number
// is higher precedence, so its document wins any conflict during merge
// (see pkg/provisioning/merge and pkg/provisioning.New).
package sources

import "context"

// Priority orders collectors from highest to lowest precedence: the
// lowest Priority number wins any merge conflict. Ties are broken by the
// order the caller lists sources in.
type Priority int

const (
	PriorityLocalFile    Priority = 1
	PriorityCloudInit    Priority = 10
	PriorityEC2          Priority = 20
	PriorityAzure        Priority = 21
	PriorityGCP          Priority = 22
	PriorityDigitalOcean Priority = 23
	PriorityOpenStack    Priority = 24
	PrioritySmartOS      Priority = 30
)

// Source is a single provisioning data origin. Detect is cheap and safe
// to call speculatively (a file stat, a short metadata-service GET, an
// mdata-get probe); Load does the full fetch-and-parse and is only called once
// Detect has returned true.
type Source interface {
	// Name identifies the source in logs and in the list of loaded
	// source names that Collect returns.
	Name() string
	// Priority is this source's position in the merge order.
	Priority() Priority
	// Detect reports whether this source's backing environment (cloud
	// metadata service, NoCloud seed directory, local file) is present.
	Detect(ctx context.Context) bool
	// Load fetches and parses this source's configuration document. Only
	// called after Detect has returned true.
	Load(ctx context.Context) (map[string]interface{}, error)
}
