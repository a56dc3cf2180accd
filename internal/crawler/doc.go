// Package crawler defines the records, fetch outcomes and collaborator
// contracts shared by the menu harvesting pipeline.
package crawler
