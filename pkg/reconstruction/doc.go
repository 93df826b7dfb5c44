// Package reconstruction rebuilds the beams of a treatment plan on a QA
// phantom.
//
// For every active source beam the reconstruction:
// 1. Classifies the delivery technique
// 2. Splits the energy mode into energy and primary fluence mode
// 3. Builds the machine parameters and beam geometry at the shared
//    verification isocenter, with the couch forced to 0
// 4. Constructs the beam through the technique's entry point
// 5. Gives it the source beam's ID
// 6. Transplants every control point's leaf and jaw positions and the
//    beam weight factor
// 7. Records the source meterset for dose calculation
//
// Steps 1-3 and the control point edits are computed up front as a
// Blueprint, so they can be inspected without a planning system.
package reconstruction
