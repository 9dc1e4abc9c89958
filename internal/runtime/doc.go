// Package runtime implements the execution engine that advances each chat through the active flow.
package runtime
