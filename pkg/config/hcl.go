package config

import (
	"os"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/rotisserie/eris"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// getenvFunc mirrors the Starlark getenv builtin: getenv(key) or getenv(key, default).
var getenvFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "key", Type: cty.String},
	},
	VarParam: &function.Parameter{Name: "default", Type: cty.String},
	Type:     function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, retType cty.Type) (cty.Value, error) {
		if len(args) > 2 {
			return cty.NilVal, eris.New("getenv takes at most one default value")
		}

		value, ok := os.LookupEnv(args[0].AsString())
		if !ok && len(args) == 2 {
			value = args[1].AsString()
		}
		return cty.StringVal(value), nil
	},
})

func loadHCL(path string, cfg *BuildConfig) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return eris.Wrapf(diags, "failed to parse %s", path)
	}

	evalCtx := &hcl.EvalContext{
		Functions: map[string]function.Function{
			"getenv": getenvFunc,
		},
	}

	diags = gohcl.DecodeBody(file.Body, evalCtx, cfg)
	if diags.HasErrors() {
		return eris.Wrapf(diags, "failed to decode %s", path)
	}
	return nil
}
