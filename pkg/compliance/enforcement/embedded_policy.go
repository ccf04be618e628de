// Copyright (C) 2026 Harmony Education Labs (oss@harmonyedu.org)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

/*
Package enforcement bridges the build system and the compliance guard. It
uses the Go embed package to bake prohibited_output_policy.yaml directly
into the compiled binary, so the policy is immutable at runtime and travels
with the executable.
*/
package enforcement

import (
	_ "embed"
)

// ProhibitedOutputPolicy holds the raw byte content of the
// 'prohibited_output_policy.yaml' file.
//
// Populated at compile time via the Go 'embed' directive. Baking the YAML
// into the binary ensures the policy cannot be tampered with on the host
// filesystem without recompiling the application.
//
// Usage:
//
//	// Pass these bytes directly to yaml.Unmarshal
//	err := yaml.Unmarshal(enforcement.ProhibitedOutputPolicy, &targetStruct)
//
//go:embed prohibited_output_policy.yaml
var ProhibitedOutputPolicy []byte
