// Package intent turns a free-text calendar request into a structured Record.
//
// A Classifier never fails from the caller's point of view: any problem
// talking to the model or decoding its answer yields a Record of kind
// Unknown. GeminiClassifier is the production implementation and asks a
// Gemini model for a JSON document matching the wire shape of Record.
package intent
