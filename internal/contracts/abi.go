// Package contracts maps the token and marketplace contract ABIs onto typed
// domain records. Every contract call has exactly one decode function, so
// return-shape differences between nodes and contract versions stay here.
package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const tokenABIJSON = `[
  {"type":"function","name":"totalSupply","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"tokenURI","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"string"}]},
  {"type":"function","name":"ownerOf","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"isApprovedForAll","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"getApproved","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
  {"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"uri","type":"string"},{"name":"royaltyBps","type":"uint96"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"publicMint","stateMutability":"payable","inputs":[{"name":"to","type":"address"},{"name":"uri","type":"string"},{"name":"royaltyBps","type":"uint96"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"setApprovalForAll","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]},
  {"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
  {"type":"event","name":"Transfer","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]},
  {"type":"error","name":"ERC721NonexistentToken","inputs":[{"name":"tokenId","type":"uint256"}]}
]`

const marketplaceABIJSON = `[
  {"type":"function","name":"getListingCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getListing","stateMutability":"view","inputs":[{"name":"listingId","type":"uint256"}],"outputs":[{"name":"","type":"tuple","components":[
    {"name":"listingId","type":"uint256"},
    {"name":"tokenId","type":"uint256"},
    {"name":"seller","type":"address"},
    {"name":"price","type":"uint256"},
    {"name":"listingType","type":"uint8"},
    {"name":"status","type":"uint8"},
    {"name":"highestBid","type":"uint256"},
    {"name":"highestBidder","type":"address"},
    {"name":"endTime","type":"uint256"}
  ]}]},
  {"type":"function","name":"getMarketplaceStats","stateMutability":"view","inputs":[],"outputs":[
    {"name":"totalListings","type":"uint256"},
    {"name":"activeListings","type":"uint256"},
    {"name":"totalSales","type":"uint256"},
    {"name":"totalVolume","type":"uint256"}
  ]},
  {"type":"function","name":"paused","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bool"}]},
  {"type":"function","name":"listItem","stateMutability":"nonpayable","inputs":[{"name":"tokenId","type":"uint256"},{"name":"price","type":"uint256"},{"name":"listingType","type":"uint8"},{"name":"duration","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"buyItem","stateMutability":"payable","inputs":[{"name":"listingId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"placeBid","stateMutability":"payable","inputs":[{"name":"listingId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"endAuction","stateMutability":"nonpayable","inputs":[{"name":"listingId","type":"uint256"}],"outputs":[]}
]`

// TokenABI is the parsed ABI of the NFT token contract.
var TokenABI = mustParseABI(tokenABIJSON)

// MarketplaceABI is the parsed ABI of the marketplace contract.
var MarketplaceABI = mustParseABI(marketplaceABIJSON)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic("contracts: invalid ABI: " + err.Error())
	}
	return parsed
}
