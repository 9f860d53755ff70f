package queryexpand

// DomainSynonyms maps a lowercased vocabulary term to its code-domain
// equivalents, expanded in both directions by Expand: cross-language
// keyword variants, common abbreviations, and natural-language-to-code
// mappings most relevant to memory-record recall rather than raw source
// search.
var DomainSynonyms = map[string][]string{
	"function":  {"func", "method", "fn", "def"},
	"method":    {"func", "fn", "function"},
	"class":     {"type", "struct", "interface"},
	"type":      {"class", "struct", "interface"},
	"struct":    {"class", "type", "structure"},
	"interface": {"protocol", "trait", "contract"},
	"error":     {"err", "exception", "fail", "failure", "bug"},
	"bug":       {"error", "defect", "issue", "problem"},
	"issue":     {"bug", "problem", "ticket"},
	"problem":   {"issue", "bug", "error"},
	"request":   {"req", "http"},
	"response":  {"resp", "reply"},
	"context":   {"ctx"},
	"config":    {"cfg", "configuration", "settings", "options"},
	"database":  {"db", "store", "storage"},
	"store":     {"storage", "database", "repository"},
	"repository": {"repo", "store"},
	"query":     {"search", "find", "select"},
	"search":    {"find", "query", "lookup", "retrieve"},
	"find":      {"search", "get", "lookup", "query"},
	"index":     {"indexer", "indexing", "catalog"},
	"vector":    {"embedding", "dense", "semantic"},
	"embed":     {"embedding", "embedder", "vector"},
	"create":    {"new", "make", "init", "initialize"},
	"get":       {"fetch", "retrieve", "read", "load"},
	"set":       {"put", "assign", "write", "store"},
	"delete":    {"remove", "drop", "destroy"},
	"update":    {"modify", "edit", "change"},
	"test":      {"testing", "spec", "check", "verify"},
	"async":     {"goroutine", "concurrent", "parallel"},
	"mutex":     {"lock", "sync"},
	"file":      {"path", "filesystem"},
	"directory": {"dir", "folder", "path"},
	"log":       {"logger", "logging"},
	"debug":     {"trace", "verbose"},
	"security":  {"auth", "authentication", "authorization", "vulnerability"},
	"auth":      {"authentication", "authorization", "security", "login"},
	"decision":  {"choice", "rationale", "tradeoff"},
	"debt":      {"technicaldebt", "todo", "fixme", "cleanup"},
	"pattern":   {"convention", "idiom", "approach"},
	"implementation": {"impl", "implement"},
	"where":     {"location", "file", "path"},
	"how":       {"implementation", "logic"},
	"what":      {"definition", "type"},
	"called":    {"call", "invoke", "execute"},
	"returns":   {"return", "output", "result"},
	"parameter": {"param", "arg", "argument", "input"},
}
