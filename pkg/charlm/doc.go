/*
Package charlm provides a character-level language modeling toolkit: a
vocabulary with reserved sentinel codes, a sliding-window encoder that turns
marked examples into (window, label) training pairs, and an autoregressive
generator that samples text from anything satisfying the Model boundary.

The numeric model is deliberately external: Model is a single Predict method
from a fixed-length window to a probability distribution over the
vocabulary. The package ships a SQLite-backed transition-count model so the
pipeline runs end to end, and an ONNX adapter (behind the `onnx` build tag)
for networks trained elsewhere.
*/
package charlm
