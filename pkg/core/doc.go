// Package core defines the shared language of the lookval system.
//
// This package contains:
//   - Domain entities (Dimension, Explore, Query)
//   - Result records (SQLError, TestResult, ValidationResult)
//   - Service interfaces (RunStore)
//
// The Golden Rule: pkg/core imports ONLY stdlib.
// All other packages depend on core, not the reverse.
package core
