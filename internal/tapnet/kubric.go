package tapnet

// TrainSize is the shape of a Kubric training clip: frames, height, width
// and channels.
var TrainSize = [4]int{24, 256, 256, 3}

// trainResolution returns the (height, width) part of TrainSize.
func trainResolution() []int {
	return TrainSize[1:3:3]
}
