// Package types provides the core data model shared across the kolosal-agent
// runtime. This package has ZERO dependencies on other kolosal-agent packages
// to avoid circular imports. All other packages should import types from here.
package types
