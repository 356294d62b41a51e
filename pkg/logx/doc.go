// Package logx is a thin zerolog wrapper shared by all components.
//
// It exists so services can hold a Logger value whose sinks and level
// can be swapped at runtime (config hot reload) without re-plumbing
// loggers through constructors.
package logx
