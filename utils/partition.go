package utils

import (
	"math"
	"sync"
)

// PartitionMap splits an entity index range into ParallelDegree contiguous
// partitions. Collective reductions over partitions are the single
// synchronization points of the control flow: everything between them is
// rank-local.
type PartitionMap struct {
	MaxIndex       int
	ParallelDegree int
	Partitions     [][2]int // begin and one-past-end index per partition
}

func NewPartitionMap(parallelDegree, maxIndex int) (pm *PartitionMap) {
	if parallelDegree < 1 {
		parallelDegree = 1
	}
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: parallelDegree,
		Partitions:     make([][2]int, parallelDegree),
	}
	for n := 0; n < parallelDegree; n++ {
		pm.Partitions[n] = pm.split1D(n)
	}
	return
}

func (pm *PartitionMap) split1D(threadNum int) (bucket [2]int) {
	var (
		Npart = pm.MaxIndex / pm.ParallelDegree
		rem   = pm.MaxIndex % pm.ParallelDegree
	)
	bucket[0] = threadNum * Npart
	if threadNum < rem {
		bucket[0] += threadNum
	} else {
		bucket[0] += rem
	}
	bucket[1] = bucket[0] + Npart
	if threadNum < rem {
		bucket[1]++
	}
	return
}

func (pm *PartitionMap) GetBucketRange(bucketNum int) (kMin, kMax int) {
	kMin, kMax = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

// reduceAll runs f once per partition concurrently, then combines the
// partition results. This is the barrier point: it returns only after every
// partition has arrived.
func (pm *PartitionMap) reduceAll(f func(kMin, kMax int) float64,
	combine func(a, b float64) float64, init float64) (result float64) {
	var (
		wg   sync.WaitGroup
		vals = make([]float64, pm.ParallelDegree)
	)
	for n := 0; n < pm.ParallelDegree; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			kMin, kMax := pm.GetBucketRange(n)
			vals[n] = f(kMin, kMax)
		}(n)
	}
	wg.Wait()
	result = init
	for _, v := range vals {
		result = combine(result, v)
	}
	return
}

func (pm *PartitionMap) ReduceMin(f func(kMin, kMax int) float64) float64 {
	return pm.reduceAll(f, math.Min, math.Inf(1))
}

func (pm *PartitionMap) ReduceMax(f func(kMin, kMax int) float64) float64 {
	return pm.reduceAll(f, math.Max, math.Inf(-1))
}

func (pm *PartitionMap) ReduceSum(f func(kMin, kMax int) float64) float64 {
	return pm.reduceAll(f, func(a, b float64) float64 { return a + b }, 0)
}
