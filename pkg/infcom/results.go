/*
 *  Copyright (c) 2023 Juice Technologies, Inc. All Rights Reserved.
 */
package infcom

type Result struct {
	Tag   int32
	Label int32

	// Set only for top-K results, both of length K.
	Labels        []int32
	Probabilities []float32
}

// ResultsPerCommand is the number of results one result command can carry.
// Single-label results take {tag, label}; top-K results take
// {tag, labels[K], probabilities[K]}.
func ResultsPerCommand(topK int) int {
	if topK <= 0 {
		return ResultsPerMessage
	}
	return (DataCount - 2) / (1 + 2*topK)
}

// EncodeResults packs results into a single INFERENCE_RESULT, or a
// TOPK_INFERENCE_RESULT when topK > 0. The caller keeps len(results) within
// ResultsPerCommand(topK).
func EncodeResults(results []Result, topK int) Command {
	if topK <= 0 {
		cmd := NewCommand(InferenceResult, int32(len(results)), 0)
		for i, result := range results {
			cmd.Data[2+i*2] = result.Tag
			cmd.Data[3+i*2] = result.Label
		}
		return cmd
	}

	cmd := NewCommand(TopKInferenceResult, int32(len(results)), int32(topK))
	stride := 1 + 2*topK
	for i, result := range results {
		base := 2 + i*stride
		cmd.Data[base] = result.Tag
		for k := 0; k < topK; k++ {
			if k < len(result.Labels) {
				cmd.Data[base+1+k] = result.Labels[k]
			}
			if k < len(result.Probabilities) {
				cmd.SetFloat(base+1+topK+k, result.Probabilities[k])
			}
		}
	}
	return cmd
}

func DecodeResults(cmd Command) ([]Result, error) {
	count := int(cmd.Data[0])

	switch cmd.Kind {
	case InferenceResult:
		if count < 0 || count > ResultsPerMessage {
			return nil, ErrProtocol.Wrapf("%s carries %d results", cmd.Kind, count)
		}

		results := make([]Result, count)
		for i := range results {
			results[i] = Result{
				Tag:   cmd.Data[2+i*2],
				Label: cmd.Data[3+i*2],
			}
		}
		return results, nil

	case TopKInferenceResult:
		topK := int(cmd.Data[1])
		if topK < 1 || topK > MaxTopK {
			return nil, ErrProtocol.Wrapf("%s with K=%d", cmd.Kind, topK)
		}
		if count < 0 || count > ResultsPerCommand(topK) {
			return nil, ErrProtocol.Wrapf("%s carries %d results with K=%d", cmd.Kind, count, topK)
		}

		stride := 1 + 2*topK
		results := make([]Result, count)
		for i := range results {
			base := 2 + i*stride
			result := Result{
				Tag:           cmd.Data[base],
				Labels:        make([]int32, topK),
				Probabilities: make([]float32, topK),
			}
			for k := 0; k < topK; k++ {
				result.Labels[k] = cmd.Data[base+1+k]
				result.Probabilities[k] = cmd.Float(base + 1 + topK + k)
			}
			result.Label = result.Labels[0]
			results[i] = result
		}
		return results, nil
	}

	return nil, ErrProtocol.Wrapf("%s is not a result command", cmd.Kind)
}
