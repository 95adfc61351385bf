// Package hcl provides the concrete HCL implementation of config.Loader. It
// parses scene files, evaluates shape expressions and translates the result
// into the format-agnostic scene model.
package hcl
