// Package engine orchestrates one analysis request end to end.
//
// The flow is fixed: validate the input, acquire a workspace, stage the
// input into it, resolve the execution plan, run the analyzer, normalize
// its output and assemble the report. The workspace is released on every
// exit path. Failures before the analyzer produces output are returned as
// *Error values classified by Kind; PublicMessage renders them for callers.
//
// Usage:
//
//	eng := engine.New(logger, cfg, selector, sandbox.NewRunner(logger, cfg))
//	rep, err := eng.AnalyzeSource(ctx, "Token.sol", source)
//	if errors.Is(err, engine.ErrInput) {
//	    // reject the request
//	}
package engine
