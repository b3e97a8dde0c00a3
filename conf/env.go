package conf

import "fmt"

// EnvironmentEnum runtime environment
type EnvironmentEnum int

const (
	LocalEnvironmentEnum EnvironmentEnum = iota
	DevEnvironmentEnum
	ProdEnvironmentEnum
	ExampleEnvironmentEnum
)

// SystemEnvironmentEnum current environment, set from the -env flag before InitConfig
var SystemEnvironmentEnum = LocalEnvironmentEnum

// ConfigDir directory holding conf_<env>.yaml files
var ConfigDir = "./conf"

func (e EnvironmentEnum) String() string {
	switch e {
	case DevEnvironmentEnum:
		return "dev"
	case ProdEnvironmentEnum:
		return "prod"
	case ExampleEnvironmentEnum:
		return "example"
	default:
		return "loc"
	}
}

// ParseEnvironment maps a flag value to an environment, falling back to loc
func ParseEnvironment(env string) EnvironmentEnum {
	switch env {
	case "dev":
		return DevEnvironmentEnum
	case "prod":
		return ProdEnvironmentEnum
	case "example":
		return ExampleEnvironmentEnum
	default:
		return LocalEnvironmentEnum
	}
}

// GetYaml get config file path for current environment
func GetYaml() string {
	return fmt.Sprintf("%s/conf_%s.yaml", ConfigDir, SystemEnvironmentEnum)
}
