// Package crawler defines the types and collaborator contracts shared by the
// fetchers, the page processor, the crawl scheduler, and the service layers,
// along with URL normalization and link filtering.
package crawler
