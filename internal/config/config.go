// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package config is responsible for loading the configuration from various
// sources, e.g., environment variables, configuration files and user input.
//
// The configuration is loaded once at startup and never mutated afterwards.
//
// In order to add a new configuration item, you need to:
// - add a field to the Config struct and assign the corresponding env variable
//   name and the default value via struct tags.
// - add validation code to method `Config.validate()` (optional).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/appoptics/otlp-histogram-sender/internal/log"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	// max config file size = 1MB
	maxConfigFileSize = 1024 * 1024

	// appended to the configured endpoint to build the metrics URL
	metricsPathSuffix = "/v1/metrics"
)

// The environment variables
const (
	EnvEndpoint           = "DT_ENDPOINT"
	EnvAPIToken           = "DT_API_TOKEN"
	envServiceName        = "DT_SERVICE_NAME"
	envServiceVersion     = "DT_SERVICE_VERSION"
	envEnvironment        = "DT_DEPLOYMENT_ENVIRONMENT"
	envProtocol           = "DT_PROTOCOL"
	envExportInterval     = "DT_EXPORT_INTERVAL"
	envExportTimeout      = "DT_EXPORT_TIMEOUT"
	envProxy              = "DT_PROXY"
	envInsecureSkipVerify = "DT_INSECURE_SKIP_VERIFY"
	envConfigFile         = "DT_CONFIG_FILE"
)

// The export protocols
const (
	ProtocolHTTPProtobuf = "http/protobuf"
	ProtocolGRPC         = "grpc"
)

// Errors
var (
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrFileTooLarge      = errors.New("file size exceeds limit")
	ErrMissingEndpoint   = errors.New(MissingEnv(EnvEndpoint))
	ErrMissingAPIToken   = errors.New(MissingEnv(EnvAPIToken))
)

// ConfigurationError is returned when the configuration cannot be used to
// start sending metrics, e.g., a required environment variable is missing.
type ConfigurationError struct {
	Err error
}

// NewConfigurationError wraps err as a ConfigurationError.
func NewConfigurationError(err error) error {
	return &ConfigurationError{Err: err}
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Err.Error()
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether any error in err's chain is a
// ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// Config is the struct to define the sender configuration.
type Config struct {
	// Endpoint is the base URL of the OTLP endpoint, e.g.
	// https://<cluster>/e/<env-id>/api/v2/otlp
	Endpoint string `yaml:"endpoint,omitempty" env:"DT_ENDPOINT"`

	// APIToken is the token with the OTLP ingest permission
	APIToken string `yaml:"api_token,omitempty" env:"DT_API_TOKEN"`

	ServiceName    string `yaml:"service_name,omitempty" env:"DT_SERVICE_NAME" default:"my-service"`
	ServiceVersion string `yaml:"service_version,omitempty" env:"DT_SERVICE_VERSION" default:"1.0.0"`
	Environment    string `yaml:"deployment_environment,omitempty" env:"DT_DEPLOYMENT_ENVIRONMENT" default:"prod"`

	// The export protocol, http/protobuf or grpc
	Protocol string `yaml:"protocol,omitempty" env:"DT_PROTOCOL" default:"http/protobuf"`

	// The interval in seconds of the background export
	ExportInterval int `yaml:"export_interval,omitempty" env:"DT_EXPORT_INTERVAL" default:"5"`

	// The timeout in seconds of a single flush, 0 means no timeout
	ExportTimeout int `yaml:"export_timeout,omitempty" env:"DT_EXPORT_TIMEOUT" default:"10"`

	// The proxy URL for the http/protobuf protocol
	Proxy string `yaml:"proxy,omitempty" env:"DT_PROXY"`

	// Whether to skip verification of the endpoint certificate
	InsecureSkipVerify bool `yaml:"insecure_skip_verify,omitempty" env:"DT_INSECURE_SKIP_VERIFY"`

	configFile string
}

// Option is a function type that accepts a Config pointer and
// applies the configuration option it defines.
type Option func(c *Config)

// WithEndpoint defines a Config option for the endpoint.
func WithEndpoint(endpoint string) Option {
	return func(c *Config) {
		c.Endpoint = endpoint
	}
}

// WithAPIToken defines a Config option for the API token.
func WithAPIToken(token string) Option {
	return func(c *Config) {
		c.APIToken = token
	}
}

// WithProtocol defines a Config option for the export protocol.
func WithProtocol(protocol string) Option {
	return func(c *Config) {
		c.Protocol = protocol
	}
}

// WithExportTimeout defines a Config option for the flush timeout in seconds.
func WithExportTimeout(seconds int) Option {
	return func(c *Config) {
		c.ExportTimeout = seconds
	}
}

// WithConfigFile sets the path of the YAML config file. It takes precedence
// over DT_CONFIG_FILE.
func WithConfigFile(path string) Option {
	return func(c *Config) {
		c.configFile = path
	}
}

// Load builds the configuration from the default values, the config file,
// the environment variables and the options, in this order of precedence
// (lowest first).
//
// It returns a ConfigurationError if the endpoint or the API token is missing.
// Invalid values of the other items are discarded with a warning.
func Load(opts ...Option) (*Config, error) {
	c := newConfig()

	// The options are applied once here to pick up the config file path, and
	// again after the environment so they take precedence.
	for _, opt := range opts {
		opt(c)
	}

	if err := c.loadConfigFile(); err != nil {
		return nil, NewConfigurationError(errors.Wrap(err, "Load"))
	}
	c.loadEnvs()

	for _, opt := range opts {
		opt(c)
	}

	if err := c.validate(); err != nil {
		return nil, NewConfigurationError(err)
	}

	log.Infof("Accepted config items: \n%s", getDelta(newConfig(), c).sanitize())
	return c, nil
}

func newConfig() *Config {
	return initStruct(&Config{}).(*Config)
}

func (c *Config) validate() error {
	var result *multierror.Error

	c.Endpoint = strings.TrimSpace(c.Endpoint)
	if c.Endpoint == "" {
		result = multierror.Append(result, ErrMissingEndpoint)
	}

	c.APIToken = strings.TrimSpace(c.APIToken)
	if c.APIToken == "" {
		result = multierror.Append(result, ErrMissingAPIToken)
	}

	if ok := IsValidServiceName(c.ServiceName); !ok {
		log.Warning(InvalidEnv("ServiceName", c.ServiceName))
		c.ServiceName = getFieldDefaultValue(c, "ServiceName")
	}

	if ok := IsValidServiceVersion(c.ServiceVersion); !ok {
		log.Warning(InvalidEnv("ServiceVersion", c.ServiceVersion))
		c.ServiceVersion = getFieldDefaultValue(c, "ServiceVersion")
	}

	c.Protocol = ToProtocol(c.Protocol)
	if ok := IsValidProtocol(c.Protocol); !ok {
		log.Warning(InvalidEnv("Protocol", c.Protocol))
		c.Protocol = getFieldDefaultValue(c, "Protocol")
	}

	if c.ExportInterval <= 0 {
		log.Warning(InvalidEnv("ExportInterval", strconv.Itoa(c.ExportInterval)))
		c.ExportInterval = ToInteger(getFieldDefaultValue(c, "ExportInterval"))
	}

	if c.ExportTimeout < 0 {
		log.Warning(InvalidEnv("ExportTimeout", strconv.Itoa(c.ExportTimeout)))
		c.ExportTimeout = ToInteger(getFieldDefaultValue(c, "ExportTimeout"))
	}

	if result == nil {
		return nil
	}
	result.ErrorFormat = joinErrors
	return result
}

func joinErrors(es []error) string {
	s := make([]string, 0, len(es))
	for _, e := range es {
		s = append(s, e.Error())
	}
	return strings.Join(s, ", ")
}

// MetricsEndpoint returns the URL the metrics are exported to: the endpoint
// without trailing slashes and with the metrics path appended.
func (c *Config) MetricsEndpoint() string {
	return MetricsEndpoint(c.Endpoint)
}

// MetricsEndpoint normalizes a base endpoint into the metrics export URL.
func MetricsEndpoint(endpoint string) string {
	return strings.TrimRight(strings.TrimSpace(endpoint), "/") + metricsPathSuffix
}

// ExportIntervalDuration returns the background export interval.
func (c *Config) ExportIntervalDuration() time.Duration {
	return time.Duration(c.ExportInterval) * time.Second
}

// ExportTimeoutDuration returns the flush timeout, zero for none.
func (c *Config) ExportTimeoutDuration() time.Duration {
	return time.Duration(c.ExportTimeout) * time.Second
}

// AuthorizationHeader returns the headers carrying the API token.
func (c *Config) AuthorizationHeader() map[string]string {
	return map[string]string{"Authorization": "Api-Token " + c.APIToken}
}

// DeltaItem defines a delta item of two Config objects
type DeltaItem struct {
	key        string
	env        string
	value      string
	defaultVal string
}

// Delta defines the overall delta of two Config objects
type Delta struct {
	delta []DeltaItem
}

func (d *Delta) add(item ...DeltaItem) {
	d.delta = append(d.delta, item...)
}

func (d *Delta) sanitize() *Delta {
	for idx, item := range d.delta {
		if item.key == "APIToken" {
			d.delta[idx].value = MaskToken(item.value)
		}
	}
	return d
}

func (d *Delta) String() string {
	var s []string
	for _, item := range d.delta {
		s = append(s, fmt.Sprintf("%s(%s)=%s (default=%s)",
			item.key,
			item.env,
			item.value,
			item.defaultVal))
	}
	return strings.Join(s, "\n")
}

// getDelta compares two instances of the same struct and returns the delta.
func getDelta(base, changed interface{}) *Delta {
	delta := &Delta{}

	baseVal := reflect.Indirect(reflect.ValueOf(base))
	changedVal := reflect.Indirect(reflect.ValueOf(changed))

	if changedVal.Kind() != reflect.Struct {
		return delta
	}

	for i := 0; i < changedVal.NumField(); i++ {
		field := changedVal.Type().Field(i)
		fieldChanged := changedVal.Field(i)
		if field.Anonymous || !fieldChanged.CanSet() {
			continue
		}

		fieldBase := baseVal.Field(i)
		if fieldBase.Interface() != fieldChanged.Interface() {
			delta.add(DeltaItem{
				key:        field.Name,
				env:        field.Tag.Get("env"),
				value:      fmt.Sprintf("%v", fieldChanged.Interface()),
				defaultVal: fmt.Sprintf("%v", fieldBase.Interface()),
			})
		}
	}
	return delta
}

func getFieldDefaultValue(i interface{}, name string) string {
	iv := reflect.Indirect(reflect.ValueOf(i))
	if iv.Kind() != reflect.Struct {
		panic("calling getFieldDefaultValue with non-struct type")
	}

	field, ok := iv.Type().FieldByName(name)
	if !ok {
		panic(fmt.Sprintf("invalid field: %s", name))
	}

	return field.Tag.Get("default")
}

// initStruct initializes the struct with the default values of the struct
// tags. The input must be a pointer to a struct.
func initStruct(c interface{}) interface{} {
	val := reflect.Indirect(reflect.ValueOf(c))

	for i := 0; i < val.NumField(); i++ {
		fieldVal := val.Field(i)
		field := val.Type().Field(i)

		if field.Anonymous || !fieldVal.CanSet() {
			continue
		}
		fieldVal.Set(stringToValue(field.Tag.Get("default"), field.Type))
	}

	return c
}

// stringToValue converts a string to a value of the type typ.
func stringToValue(s string, typ reflect.Type) reflect.Value {
	s = strings.TrimSpace(s)

	var val interface{}
	var err error
	switch typ.Kind() {
	case reflect.Int:
		if s == "" {
			s = "0"
		}
		val, err = strconv.Atoi(s)
		if err != nil {
			log.Warningf("Ignore invalid int value: %s", s)
		}
	case reflect.Int64:
		if s == "" {
			s = "0"
		}
		val, err = strconv.ParseInt(s, 10, 64)
		if err != nil {
			log.Warningf("Ignore invalid int64 value: %s", s)
		}
	case reflect.String:
		val = s
	case reflect.Bool:
		if s == "" {
			s = "false"
		}
		val, err = toBool(s)
		if err != nil {
			log.Warningf("Ignore invalid bool value: %s", errors.Wrap(err, s))
		}
	default:
		panic(fmt.Sprintf("Unsupported kind: %v, val: %s", typ.Kind(), s))
	}
	return reflect.ValueOf(val).Convert(typ)
}

func toBool(s string) (bool, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "yes", "true", "enabled", "1", "on":
		return true, nil
	case "no", "false", "disabled", "0", "off":
		return false, nil
	}
	return false, errors.New("cannot convert input to bool")
}

// loadEnvs loads environment variable values and updates the Config object.
// Empty variables are treated as unset.
func (c *Config) loadEnvs() {
	cv := reflect.Indirect(reflect.ValueOf(c))
	ct := cv.Type()

	for i := 0; i < ct.NumField(); i++ {
		field := ct.Field(i)
		fieldV := cv.Field(i)
		if !fieldV.CanSet() || field.Anonymous {
			continue
		}

		tagV := field.Tag.Get("env")
		if tagV == "" {
			continue
		}

		envVal := strings.TrimSpace(os.Getenv(tagV))
		if envVal == "" {
			continue
		}

		fieldV.Set(stringToValue(envVal, field.Type))
	}
}

// getConfigPath returns the absolute path of the config file, or an empty
// string if there is none.
func (c *Config) getConfigPath() string {
	path := c.configFile
	if path == "" {
		path = os.Getenv(envConfigFile)
	}
	if path != "" {
		abs, err := filepath.Abs(path)
		if err == nil {
			return abs
		}
		log.Warningf("Ignore config file %s: %s", path, err)
	}

	candidates := []string{
		"./otlp-sender.yaml",
		"./otlp-sender.yml",
	}

	for _, file := range candidates {
		abs, err := filepath.Abs(file)
		if err != nil {
			continue
		}
		if _, e := os.Stat(abs); e != nil {
			continue
		}
		return abs
	}

	return ""
}

func (c *Config) loadYaml(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "loadYaml")
	}

	// The config struct is modified in place so we won't tolerate any error
	if err = yaml.UnmarshalStrict(data, c); err != nil {
		return errors.Wrap(err, "loadYaml")
	}
	return nil
}

func (c *Config) checkFileSize(path string) error {
	file, err := os.Stat(path)
	if err != nil {
		return errors.Wrap(err, "checkFileSize")
	}
	if size := file.Size(); size > maxConfigFileSize {
		return errors.Wrap(ErrFileTooLarge, fmt.Sprintf("File size: %d", size))
	}
	return nil
}

// loadConfigFile loads from the config file
func (c *Config) loadConfigFile() error {
	path := c.getConfigPath()
	if path == "" {
		log.Debug("No config file found.")
		return nil
	}

	if err := c.checkFileSize(path); err != nil {
		return errors.Wrap(err, "loadConfigFile")
	}

	switch filepath.Ext(path) {
	case ".yml", ".yaml":
		log.Infof("Loading config file: %s", path)
		return c.loadYaml(path)
	default:
		return errors.Wrap(ErrUnsupportedFormat, path)
	}
}
