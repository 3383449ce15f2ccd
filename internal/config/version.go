package config

// Version is the engine version reported at startup and in build metadata.
const Version = "0.1.0"
