package version

// Current is the module version reported in usage output and logs.
const Current = "0.2.0"
