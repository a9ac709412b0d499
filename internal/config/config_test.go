// Copyright (C) 2017 Librato, Inc. All rights reserved.

package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "dt0c01.ST2EY72KQINMH574WMNVI7YN.G3DFPBEJYMODIDAEX454M7YWBUVEFOWKPRVMWFASS64NFH52PX6BNDVFFM572RZM"

// clearEnv makes sure the test doesn't pick up the environment of the
// developer's shell.
func clearEnv(t *testing.T) {
	for _, env := range []string{EnvEndpoint, EnvAPIToken, envServiceName,
		envServiceVersion, envEnvironment, envProtocol, envExportInterval,
		envExportTimeout, envProxy, envInsecureSkipVerify, envConfigFile} {
		t.Setenv(env, "")
	}
}

func TestToBool(t *testing.T) {
	for _, s := range []string{"yes", "true", "YES", " True ", "enabled", "1", "on"} {
		b, err := toBool(s)
		assert.True(t, b, s)
		assert.Nil(t, err, s)
	}
	for _, s := range []string{"no", "false", "NO", "disabled", "0", "OFF"} {
		b, err := toBool(s)
		assert.False(t, b, s)
		assert.Nil(t, err, s)
	}

	for _, s := range []string{"invalid", "2", "-1", "y"} {
		b, err := toBool(s)
		assert.False(t, b, s)
		assert.NotNil(t, err, s)
	}
}

func TestLoadNumericBoolEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEndpoint, "http://localhost:4318")
	t.Setenv(EnvAPIToken, testToken)

	t.Setenv(envInsecureSkipVerify, "1")
	c, err := Load()
	require.NoError(t, err)
	assert.True(t, c.InsecureSkipVerify)

	t.Setenv(envInsecureSkipVerify, "0")
	c, err = Load()
	require.NoError(t, err)
	assert.False(t, c.InsecureSkipVerify)
}

func TestStringToValue(t *testing.T) {
	typInt := reflect.TypeOf(1)
	typInt64 := reflect.TypeOf(int64(1))
	typString := reflect.TypeOf("a")
	typBool := reflect.TypeOf(false)

	type NewStr string
	typNewStr := reflect.TypeOf(NewStr("newStr"))

	assert.Equal(t, 1, stringToValue("1", typInt).Interface())
	assert.Equal(t, 0, stringToValue("", typInt).Interface())
	assert.Equal(t, 0, stringToValue("a", typInt).Interface())

	assert.Equal(t, int64(1), stringToValue("1", typInt64).Interface())
	assert.Equal(t, int64(0), stringToValue("", typInt64).Interface())

	assert.Equal(t, "a", stringToValue(" a ", typString).Interface())
	assert.Equal(t, true, stringToValue("yes", typBool).Interface())
	assert.Equal(t, false, stringToValue("", typBool).Interface())

	assert.Equal(t, NewStr("hello"), stringToValue("hello", typNewStr).Interface())
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEndpoint, "https://abc123.live.dynatrace.com/api/v2/otlp")
	t.Setenv(EnvAPIToken, testToken)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://abc123.live.dynatrace.com/api/v2/otlp", c.Endpoint)
	assert.Equal(t, testToken, c.APIToken)
	assert.Equal(t, "my-service", c.ServiceName)
	assert.Equal(t, "1.0.0", c.ServiceVersion)
	assert.Equal(t, "prod", c.Environment)
	assert.Equal(t, ProtocolHTTPProtobuf, c.Protocol)
	assert.Equal(t, 5, c.ExportInterval)
	assert.Equal(t, 10, c.ExportTimeout)
	assert.False(t, c.InsecureSkipVerify)
	assert.Equal(t, "Api-Token "+testToken, c.AuthorizationHeader()["Authorization"])
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEndpoint, "  http://localhost:4318  ")
	t.Setenv(EnvAPIToken, testToken)
	t.Setenv(envServiceName, "checkout")
	t.Setenv(envServiceVersion, "2.3.4")
	t.Setenv(envEnvironment, "staging")
	t.Setenv(envProtocol, "GRPC")
	t.Setenv(envExportInterval, "15")
	t.Setenv(envExportTimeout, "0")
	t.Setenv(envProxy, "http://proxy:3128")
	t.Setenv(envInsecureSkipVerify, "true")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4318", c.Endpoint)
	assert.Equal(t, "checkout", c.ServiceName)
	assert.Equal(t, "2.3.4", c.ServiceVersion)
	assert.Equal(t, "staging", c.Environment)
	assert.Equal(t, ProtocolGRPC, c.Protocol)
	assert.Equal(t, 15, c.ExportInterval)
	assert.EqualValues(t, 15e9, c.ExportIntervalDuration())
	assert.Equal(t, 0, c.ExportTimeout)
	assert.Zero(t, c.ExportTimeoutDuration())
	assert.Equal(t, "http://proxy:3128", c.Proxy)
	assert.True(t, c.InsecureSkipVerify)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEndpoint, "http://localhost:4318")
	t.Setenv(EnvAPIToken, testToken)
	t.Setenv(envServiceVersion, "not a version")
	t.Setenv(envProtocol, "udp")
	t.Setenv(envExportInterval, "-3")
	t.Setenv(envExportTimeout, "-1")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", c.ServiceVersion)
	assert.Equal(t, ProtocolHTTPProtobuf, c.Protocol)
	assert.Equal(t, 5, c.ExportInterval)
	assert.Equal(t, 10, c.ExportTimeout)
}

func TestLoadMissingRequired(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		token    string
		missing  []error
	}{
		{"both missing", "", "", []error{ErrMissingEndpoint, ErrMissingAPIToken}},
		{"endpoint missing", "", testToken, []error{ErrMissingEndpoint}},
		{"token missing", "http://localhost:4318", "", []error{ErrMissingAPIToken}},
		{"blank endpoint", "   ", testToken, []error{ErrMissingEndpoint}},
		{"blank token", "http://localhost:4318", " \t", []error{ErrMissingAPIToken}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(EnvEndpoint, test.endpoint)
			t.Setenv(EnvAPIToken, test.token)

			c, err := Load()
			require.Error(t, err)
			assert.Nil(t, c)
			assert.True(t, IsConfigurationError(err))
			for _, e := range test.missing {
				assert.True(t, errors.Is(err, e), "%v should contain %v", err, e)
			}
			assert.NotContains(t, err.Error(), testToken)
		})
	}
}

func TestLoadOptionsTakePrecedence(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvEndpoint, "http://from-env:4318")
	t.Setenv(EnvAPIToken, "env-token")

	c, err := Load(
		WithEndpoint("http://from-option:4318"),
		WithAPIToken("option-token"),
		WithProtocol("http"),
		WithExportTimeout(3))
	require.NoError(t, err)
	assert.Equal(t, "http://from-option:4318", c.Endpoint)
	assert.Equal(t, "option-token", c.APIToken)
	assert.Equal(t, ProtocolHTTPProtobuf, c.Protocol)
	assert.Equal(t, 3, c.ExportTimeout)
}

func TestLoadConfigFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "sender.yaml")
	content := `
endpoint: https://file.example.com/api/v2/otlp/
api_token: file-token
service_name: from-file
export_interval: 30
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))

	// environment variables win over the file
	t.Setenv(envServiceName, "from-env")

	c, err := Load(WithConfigFile(path))
	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com/api/v2/otlp/", c.Endpoint)
	assert.Equal(t, "file-token", c.APIToken)
	assert.Equal(t, "from-env", c.ServiceName)
	assert.Equal(t, 30, c.ExportInterval)
	assert.Equal(t, "https://file.example.com/api/v2/otlp/v1/metrics", c.MetricsEndpoint())

	t.Setenv(envConfigFile, path)
	c, err = Load()
	require.NoError(t, err)
	assert.Equal(t, "file-token", c.APIToken)
}

func TestLoadConfigFileErrors(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	unsupported := filepath.Join(dir, "sender.json")
	require.NoError(t, os.WriteFile(unsupported, []byte("{}"), 0600))
	_, err := Load(WithConfigFile(unsupported))
	assert.True(t, errors.Is(err, ErrUnsupportedFormat))
	assert.True(t, IsConfigurationError(err))

	unknownKey := filepath.Join(dir, "sender.yml")
	require.NoError(t, os.WriteFile(unknownKey, []byte("no_such_key: 1\n"), 0600))
	_, err = Load(WithConfigFile(unknownKey))
	assert.Error(t, err)

	large := filepath.Join(dir, "large.yaml")
	require.NoError(t, os.WriteFile(large,
		[]byte("# "+strings.Repeat("x", maxConfigFileSize)+"\n"), 0600))
	_, err = Load(WithConfigFile(large))
	assert.True(t, errors.Is(err, ErrFileTooLarge))
}

func TestMetricsEndpoint(t *testing.T) {
	want := "https://host/e/env/api/v2/otlp/v1/metrics"
	assert.Equal(t, want, MetricsEndpoint("https://host/e/env/api/v2/otlp/"))
	assert.Equal(t, want, MetricsEndpoint("https://host/e/env/api/v2/otlp"))
	assert.Equal(t, want, MetricsEndpoint("https://host/e/env/api/v2/otlp//"))
	assert.Equal(t, "http://localhost:4318/v1/metrics", MetricsEndpoint("http://localhost:4318"))
}

func TestDeltaMasksToken(t *testing.T) {
	c := newConfig()
	c.Endpoint = "http://localhost:4318"
	c.APIToken = testToken
	c.ServiceName = "svc"

	s := getDelta(newConfig(), c).sanitize().String()
	assert.Contains(t, s, "Endpoint(DT_ENDPOINT)=http://localhost:4318 (default=)")
	assert.Contains(t, s, "APIToken(DT_API_TOKEN)=dt0c01.******** (default=)")
	assert.Contains(t, s, "ServiceName(DT_SERVICE_NAME)=svc (default=my-service)")
	assert.NotContains(t, s, "ST2EY72KQINMH574WMNVI7YN")
}
