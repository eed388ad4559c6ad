package dispatch

import (
	"fmt"
	"strings"
)

// commandRouter renders a method's argv from a template. Token 0 is the
// program path. A token of the form {param:KEY} is replaced as a whole by
// the KEY parameter (empty when absent); request values are never spliced
// into a larger token.
type commandRouter struct {
	routes map[string][]string
}

func newCommandRouter(routes map[string][]string) commandRouter {
	return commandRouter{routes: routes}
}

func defaultRoutes(p Programs) map[string][]string {
	return map[string][]string{
		MethodApplyLAN:      {p.ApplyLAN, "{param:ipaddr}", "{param:netmask}"},
		MethodReloadNetwork: {p.Network, "reload"},
		MethodSysupgrade:    {p.Sysupgrade, "{param:keep}", "{param:source}"},
	}
}

func (r commandRouter) render(method string, params map[string]string) ([]string, error) {
	tmpl, ok := r.routes[method]
	if !ok {
		return nil, fmt.Errorf("no route for method %q", method)
	}
	if len(tmpl) == 0 || tmpl[0] == "" {
		return nil, fmt.Errorf("route for method %q has no program", method)
	}
	out := make([]string, 0, len(tmpl))
	out = append(out, tmpl[0])
	for _, tok := range tmpl[1:] {
		out = append(out, expandToken(tok, params))
	}
	return out, nil
}

func expandToken(tok string, params map[string]string) string {
	key, ok := strings.CutPrefix(tok, "{param:")
	if !ok {
		return tok
	}
	key, ok = strings.CutSuffix(key, "}")
	if !ok {
		return tok
	}
	return params[key]
}
