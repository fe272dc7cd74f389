package internal

const (
	DotEnvPath                = "./.env"
	ConfigPath                = "deployer.json"
	DefaultManifestPath       = "deploy.yaml"
	DefaultConnectionInfoPath = "guardrails_info.json"
	DefaultAppName            = "nemo-guardrails-server"
)
