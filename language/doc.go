// Package language adapts source snippets of a given language to sandboxed
// process executions.
//
// Every language implements the single-method Runner contract. ScriptRunner
// covers interpreted languages: it allocates an exclusive temporary workspace,
// writes the source under a fixed filename, builds a sanitized environment and
// invokes the interpreter through a sandbox.Executor. The workspace is removed
// on every exit path.
//
// A Registry maps language tags and aliases to runners. A tag with no runner is
// rejected with ErrUnsupportedLanguage.
package language
