// Message and nickname classifiers feeding the moderation engine: local keyword scorers
// (sexual content, drug commerce, bad words), the phone number and nickname detectors, and
// a client for an OpenAI-style moderation endpoint.
package classify
