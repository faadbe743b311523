// Package activity defines the immutable records that flow through the
// nudged pipeline: content items captured by producers, their sources,
// priorities, semantic tags and the commitments detected in them.
//
// # Sources
//
// Source is a closed set keyed by SourceKind. Each kind carries only the
// fields that make sense for it and is built through a constructor:
//
//	src := activity.EmailSource("alice@x.com", "Q3 report")
//	item := activity.NewContentItem("I'll send you the report by tomorrow", src, activity.PriorityNormal)
//
// # Tags
//
// Tags come from a fixed vocabulary. TagSet is a set: adding the same tag
// twice is a no-op and iteration order carries no meaning.
package activity
