// Copyright 2023-2026 The Analyzer Authors. SPDX-License-Identifier: Apache-2.0

package commandline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
)

// ParseSettings overrides hyperparameters of ctx from a list of "param=value" separated by ";",
// e.g.: "alexnet_hidden_dim=1024;classifier_dropout_rate=0.3".
//
// Each parameter must already hold a default value in the root scope of ctx: the type of the
// default is the type the value is parsed to. A parameter may be given an absolute scope,
// "/alexnet/dense_0/classifier_dropout_rate=0", in which case it is set only in that scope.
// Underscores in integers are ignored, so 1_000 is 1000.
//
// Parameters listed in owned can't be set, in any scope: they map to the name of the option
// that controls them (empty if the value is fixed).
//
// It returns the paths of the parameters set, in the order given.
func ParseSettings(ctx *context.Context, settings string, owned map[string]string) (paramsSet []string, err error) {
	for _, setting := range strings.Split(settings, ";") {
		setting = strings.TrimSpace(setting)
		if setting == "" {
			continue
		}
		var path string
		path, err = parseSetting(ctx, setting, owned)
		if err != nil {
			return
		}
		paramsSet = append(paramsSet, path)
	}
	return
}

func parseSetting(ctx *context.Context, setting string, owned map[string]string) (string, error) {
	paramPath, valueStr, found := strings.Cut(setting, "=")
	if !found {
		return "", errors.Errorf("setting %q is not in the form \"<param>=<value>\"", setting)
	}
	scope, name := context.SplitScope(paramPath)
	if strings.Contains(name, context.ScopeSeparator) {
		return "", errors.Errorf("setting %q: scoped parameters must use an absolute scope (starting with %q)",
			setting, context.ScopeSeparator)
	}
	if option, isOwned := owned[name]; isOwned {
		if option == "" {
			return "", errors.Errorf("setting %q: parameter %q can't be changed", setting, name)
		}
		return "", errors.Errorf("setting %q: parameter %q is configured with $%s", setting, name, option)
	}
	defaultValue, found := ctx.GetParam(name)
	if !found {
		return "", errors.Errorf("setting %q: unknown parameter %q", setting, name)
	}
	value, err := parseAs(defaultValue, valueStr)
	if err != nil {
		return "", errors.Wrapf(err, "setting %q: parameter %q takes a %T", setting, name, defaultValue)
	}
	target := ctx
	if scope != "" {
		target = ctx.InAbsPath(scope)
	}
	target.SetParam(name, value)
	return paramPath, nil
}

// parseAs parses str into a value of the same type as like.
func parseAs(like any, str string) (any, error) {
	switch like.(type) {
	case string:
		return str, nil
	case bool:
		return strconv.ParseBool(str)
	case int:
		v, err := strconv.Atoi(strings.ReplaceAll(str, "_", ""))
		return v, err
	case int32:
		v, err := strconv.ParseInt(strings.ReplaceAll(str, "_", ""), 10, 32)
		return int32(v), err
	case int64:
		return strconv.ParseInt(strings.ReplaceAll(str, "_", ""), 10, 64)
	case float32:
		v, err := strconv.ParseFloat(str, 32)
		return float32(v), err
	case float64:
		return strconv.ParseFloat(str, 64)
	}
	return nil, errors.Errorf("values of type %T can't be set from text", like)
}

// SettingsTable renders the hyperparameters of ctx in the root scope plus any scoped parameter
// listed in paramsSet.
func SettingsTable(ctx *context.Context, paramsSet []string) string {
	table := newTable().Headers("Hyperparameter", "Value")
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == context.RootScope {
			table.Row(key, fmt.Sprintf("%v", value))
		}
	})
	for _, path := range paramsSet {
		scope, name := context.SplitScope(path)
		if scope == "" || scope == context.RootScope {
			continue
		}
		if value, found := ctx.InAbsPath(scope).GetParam(name); found {
			table.Row(path, fmt.Sprintf("%v", value))
		}
	}
	return table.String()
}
