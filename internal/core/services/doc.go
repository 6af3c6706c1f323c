// Package services implements the core business logic: source routing
// between the local library database and the remote API, content
// fingerprinting, and the two-phase batch import orchestrator.
package services
