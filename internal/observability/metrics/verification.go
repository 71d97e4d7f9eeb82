// Package metrics provides Prometheus instrumentation for verifactory.
package metrics

import "time"

// VerificationStored records one stored verification result.
func VerificationStored(chain, quality string) {
	if !enabled {
		return
	}
	verificationStoreTotal.WithLabelValues(chain, quality).Inc()
}

// RepositoryWrite records the duration of one filesystem repository write.
func RepositoryWrite(quality string, d time.Duration) {
	if !enabled {
		return
	}
	repositoryWriteSeconds.WithLabelValues(quality).Observe(d.Seconds())
}

// RelationalStore records one relational store write attempt.
func RelationalStore(status string) {
	if !enabled {
		return
	}
	relationalStoreTotal.WithLabelValues(status).Inc()
}

// CompilerDownload records one compiler artifact download.
func CompilerDownload(compiler, status string) {
	if !enabled {
		return
	}
	compilerDownloadTotal.WithLabelValues(compiler, status).Inc()
}

// CompilerCacheHit records one compiler cache hit.
func CompilerCacheHit(compiler string) {
	if !enabled {
		return
	}
	compilerCacheHitTotal.WithLabelValues(compiler).Inc()
}
