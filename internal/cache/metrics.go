package cache

import "github.com/prometheus/client_golang/prometheus"

var (
	// listFetches counts list fetches against the backing service by outcome.
	listFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_cache_list_fetches_total",
			Help: "Total number of list fetches issued by the cache coordinator.",
		},
		[]string{"outcome"},
	)

	// mutations counts dispatched mutations by kind and outcome. "rejected"
	// means client-side validation failed before any network call.
	mutations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_cache_mutations_total",
			Help: "Total number of mutations dispatched through the coordinator.",
		},
		[]string{"kind", "outcome"},
	)

	// rollbacks counts optimistic mutations reverted after a remote failure.
	rollbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "console_cache_rollbacks_total",
			Help: "Total number of optimistic mutations rolled back.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(listFetches, mutations, rollbacks)
}
